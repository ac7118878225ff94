package export

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// WriteArchive streams a .tar.zst archive of the pack directory to w.
// Files land at the archive root in name order.
func WriteArchive(dir string, w io.Writer) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read pack directory:\n%w", err)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd encoder:\n%w", err)
	}
	tw := tar.NewWriter(enc)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s:\n%w", entry.Name(), err)
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("archive header for %s:\n%w", entry.Name(), err)
		}
		hdr.Name = entry.Name()

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write archive header for %s:\n%w", entry.Name(), err)
		}

		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("open %s:\n%w", entry.Name(), err)
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("archive %s:\n%w", entry.Name(), err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish archive:\n%w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finish compression:\n%w", err)
	}

	return nil
}

// Archive writes a .tar.zst of the pack directory to path.
func Archive(dir, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file:\n%w", err)
	}

	if err := WriteArchive(dir, f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
