package export

import (
	"archive/tar"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"VeriTrail/internal/batch"
	"VeriTrail/internal/event"
)

type memSource struct {
	events  []*event.Event
	batches []*batch.Batch
	anchors []*batch.AnchorRecord
	err     error
}

func (m *memSource) Events() ([]*event.Event, error)         { return m.events, m.err }
func (m *memSource) Batches() ([]*batch.Batch, error)        { return m.batches, m.err }
func (m *memSource) Anchors() ([]*batch.AnchorRecord, error) { return m.anchors, m.err }

func sampleSource() *memSource {
	return &memSource{
		events: []*event.Event{
			{
				Header: event.Header{
					EventID:      "evt-0001748000000-0000",
					EventType:    string(event.OrderSubmitted),
					SpecVersion:  event.SpecVersion,
					TimestampISO: "2025-05-23T11:33:20.000Z",
					TimestampInt: 1748000000000,
					HashAlgo:     "SHA256",
					EventHash:    strings.Repeat("ab", 32),
				},
				Trade: &event.TradePayload{Symbol: "BTC-USD", Side: "BUY", Quantity: "1", Price: "50000"},
			},
		},
		batches: []*batch.Batch{
			{
				BatchID:     "batch-1",
				MerkleRoot:  strings.Repeat("cd", 32),
				HashAlgo:    "SHA256",
				EventCount:  1,
				EventHashes: []string{strings.Repeat("ab", 32)},
				Tier:        "SILVER",
				CreatedAt:   "2025-05-23T11:34:00.000Z",
			},
		},
		anchors: []*batch.AnchorRecord{
			{
				AnchorID:     "anchor-1",
				BatchID:      "batch-1",
				MerkleRoot:   strings.Repeat("cd", 32),
				AnchorTarget: "LOCAL_FILE",
				AnchorProof:  map[string]any{"sha256": strings.Repeat("ef", 32)},
			},
		},
	}
}

func TestWritePack(t *testing.T) {
	dir := t.TempDir()
	if err := WritePack(sampleSource(), dir); err != nil {
		t.Fatalf("WritePack failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, EventsFile))
	if err != nil {
		t.Fatalf("read events.json: %v", err)
	}
	var doc map[string][]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("events.json is not valid JSON: %v", err)
	}
	if len(doc["events"]) != 1 {
		t.Errorf(`expected 1 entry under "events", got %d`, len(doc["events"]))
	}

	var ev struct {
		Header event.Header
		Trade  *event.TradePayload
	}
	if err := json.Unmarshal(doc["events"][0], &ev); err != nil {
		t.Fatalf("event entry malformed: %v", err)
	}
	if ev.Header.EventID != "evt-0001748000000-0000" || ev.Trade.Symbol != "BTC-USD" {
		t.Errorf("event did not round-trip: %+v", ev)
	}

	for _, name := range []string{BatchesFile, AnchorsFile, ManifestFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing pack file %s: %v", name, err)
		}
	}
}

func TestWritePackEmptyListsNotNull(t *testing.T) {
	dir := t.TempDir()
	if err := WritePack(&memSource{}, dir); err != nil {
		t.Fatalf("WritePack failed: %v", err)
	}

	for name, key := range map[string]string{
		EventsFile:  "events",
		BatchesFile: "batches",
		AnchorsFile: "anchors",
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("%s is not valid JSON: %v", name, err)
		}
		if _, ok := doc[key].([]any); !ok {
			t.Errorf("%s %q must be a list even when empty, got %T", name, key, doc[key])
		}
	}
}

func TestWritePackManifest(t *testing.T) {
	dir := t.TempDir()
	if err := WritePack(sampleSource(), dir); err != nil {
		t.Fatalf("WritePack failed: %v", err)
	}

	manifest, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(manifest)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 manifest lines, got %d", len(lines))
	}

	for _, line := range lines {
		sum, name, found := strings.Cut(line, "  ")
		if !found {
			t.Fatalf("malformed manifest line %q", line)
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("manifest names unreadable file %s: %v", name, err)
		}
		want := blake3.Sum256(data)
		if sum != hex.EncodeToString(want[:]) {
			t.Errorf("manifest digest for %s does not match the file", name)
		}
	}
}

func TestWritePackSourceError(t *testing.T) {
	src := &memSource{err: errors.New("store closed")}
	if err := WritePack(src, t.TempDir()); err == nil {
		t.Fatal("expected the source error to surface")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := WritePack(sampleSource(), dir); err != nil {
		t.Fatalf("WritePack failed: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "pack.tar.zst")
	if err := Archive(dir, archivePath); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("archive is not zstd: %v", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	contents := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read archive: %v", err)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			t.Fatalf("read archive entry %s: %v", hdr.Name, err)
		}
		contents[hdr.Name] = buf.Bytes()
	}

	for _, name := range []string{EventsFile, BatchesFile, AnchorsFile, ManifestFile} {
		want, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !bytes.Equal(contents[name], want) {
			t.Errorf("archive entry %s differs from the pack file", name)
		}
	}
}
