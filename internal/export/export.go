// Package export writes evidence packs: the JSON files an external
// verifier consumes, a checksum manifest, and an optional compressed
// archive of the whole pack.
package export

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"VeriTrail/internal/batch"
	"VeriTrail/internal/event"
)

// Pack file names. events.json, batches.json and anchors.json are
// the interchange contract; the manifest is a tamper seal over them.
const (
	EventsFile   = "events.json"
	BatchesFile  = "batches.json"
	AnchorsFile  = "anchors.json"
	ManifestFile = "manifest.txt"
)

// Source supplies the records going into a pack.
type Source interface {
	Events() ([]*event.Event, error)
	Batches() ([]*batch.Batch, error)
	Anchors() ([]*batch.AnchorRecord, error)
}

// WritePack writes a complete evidence pack into dir, creating the
// directory if needed. Existing pack files are overwritten.
func WritePack(src Source, dir string) error {
	events, err := src.Events()
	if err != nil {
		return fmt.Errorf("load events:\n%w", err)
	}
	batches, err := src.Batches()
	if err != nil {
		return fmt.Errorf("load batches:\n%w", err)
	}
	anchors, err := src.Anchors()
	if err != nil {
		return fmt.Errorf("load anchors:\n%w", err)
	}

	// A pack with no records still carries empty lists, never null.
	if events == nil {
		events = []*event.Event{}
	}
	if batches == nil {
		batches = []*batch.Batch{}
	}
	if anchors == nil {
		anchors = []*batch.AnchorRecord{}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pack directory:\n%w", err)
	}

	files := []struct {
		name    string
		payload any
	}{
		{EventsFile, map[string]any{"events": events}},
		{BatchesFile, map[string]any{"batches": batches}},
		{AnchorsFile, map[string]any{"anchors": anchors}},
	}

	var manifest bytes.Buffer
	for _, f := range files {
		data, err := json.MarshalIndent(f.payload, "", "  ")
		if err != nil {
			return fmt.Errorf("serialize %s:\n%w", f.name, err)
		}
		data = append(data, '\n')

		if err := os.WriteFile(filepath.Join(dir, f.name), data, 0o644); err != nil {
			return fmt.Errorf("write %s:\n%w", f.name, err)
		}

		sum := blake3.Sum256(data)
		fmt.Fprintf(&manifest, "%s  %s\n", hex.EncodeToString(sum[:]), f.name)
	}

	if err := os.WriteFile(filepath.Join(dir, ManifestFile), manifest.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s:\n%w", ManifestFile, err)
	}

	return nil
}
