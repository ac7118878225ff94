// Package verify recomputes every cryptographic claim in an exported
// evidence pack: event hashes, hash-chain continuity, Merkle roots
// and inclusion proofs, anchor proofs and timeline order. It works
// from the pack's JSON files alone, never from the service's internal
// state, so a third party can run it on a pack they were handed.
package verify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Pack file names, fixed by the interchange format.
const (
	eventsFile   = "events.json"
	batchesFile  = "batches.json"
	anchorsFile  = "anchors.json"
	manifestFile = "manifest.txt"
)

// Check is one verification outcome.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

// Report aggregates the outcome of a full pack verification.
type Report struct {
	Dir     string
	Events  int
	Batches int
	Anchors int
	Checks  []Check
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

func (r *Report) add(name string, passed bool, format string, args ...any) {
	r.Checks = append(r.Checks, Check{
		Name:   name,
		Passed: passed,
		Detail: fmt.Sprintf(format, args...),
	})
}

// VerifyPack loads the pack in dir and runs the full verification
// suite. The error return covers unreadable or malformed packs;
// failed cryptographic checks land in the report instead.
func VerifyPack(dir string) (*Report, error) {
	p, err := loadPack(dir)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Dir:     dir,
		Events:  len(p.events),
		Batches: len(p.batches),
		Anchors: len(p.anchors),
	}

	checkEventHashes(r, p.events)
	checkHashChain(r, p.events)
	checkMerkleRoots(r, p.batches)
	checkInclusionProofs(r, p.batches)
	checkAnchors(r, p.anchors)
	checkTimeline(r, p.events)
	checkManifest(r, dir)

	return r, nil
}

type pack struct {
	events  []map[string]any
	batches []map[string]any
	anchors []map[string]any
}

func loadPack(dir string) (*pack, error) {
	p := &pack{}
	var err error

	if p.events, err = loadSection(filepath.Join(dir, eventsFile), "events"); err != nil {
		return nil, err
	}
	if p.batches, err = loadSection(filepath.Join(dir, batchesFile), "batches"); err != nil {
		return nil, err
	}
	if p.anchors, err = loadSection(filepath.Join(dir, anchorsFile), "anchors"); err != nil {
		return nil, err
	}

	return p, nil
}

// loadSection reads one pack file and returns the record list under
// key. Numbers stay json.Number so recomputed hashes see exactly the
// digits the pack carries.
func loadSection(path, key string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s:\n%w", filepath.Base(path), err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse %s:\n%w", filepath.Base(path), err)
	}

	raw, ok := doc[key].([]any)
	if !ok {
		return nil, fmt.Errorf("%s has no %q list", filepath.Base(path), key)
	}

	items := make([]map[string]any, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: entry %d is not an object", filepath.Base(path), i)
		}
		items = append(items, m)
	}

	return items, nil
}

// header returns an event's Header object, or nil when absent.
func header(ev map[string]any) map[string]any {
	h, _ := ev["Header"].(map[string]any)
	return h
}

// str returns a string member, or empty when absent or mistyped.
func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField returns an integer member, or zero when absent.
func intField(m map[string]any, key string) int64 {
	n, ok := m[key].(json.Number)
	if !ok {
		return 0
	}
	v, _ := n.Int64()
	return v
}
