//go:build ignore

// Compares two exported evidence packs: event hashes by event ID,
// Merkle roots by batch ID and anchor records by anchor ID. Useful
// when two parties each hold a copy of a pack and want to know
// whether they diverged.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <pack1_dir> <pack2_dir>\n", os.Args[0])
		os.Exit(1)
	}

	pack1Dir := os.Args[1]
	pack2Dir := os.Args[2]

	identical := true
	for _, section := range []struct {
		file string
		key  string
		id   string
		body string
	}{
		{"events.json", "events", "EventID", "EventHash"},
		{"batches.json", "batches", "BatchID", "MerkleRoot"},
		{"anchors.json", "anchors", "AnchorID", "MerkleRoot"},
	} {
		records1 := collectRecords(pack1Dir, section.file, section.key, section.id, section.body)
		records2 := collectRecords(pack2Dir, section.file, section.key, section.id, section.body)

		fmt.Printf("%s: %d vs %d records\n", section.file, len(records1), len(records2))

		missing1, missing2, different := compare(records1, records2)
		if len(missing1) > 0 || len(missing2) > 0 || len(different) > 0 {
			identical = false
			printDiff(section.file, missing1, missing2, different)
		}
	}

	if identical {
		fmt.Println("\n✓ Packs are identical!")
		os.Exit(0)
	}

	fmt.Println("\n✗ Packs differ")
	os.Exit(1)
}

// collectRecords loads one pack file and maps record ID to the
// compared member. Events keep their ID inside the Header object.
func collectRecords(dir, file, key, idField, bodyField string) map[string]string {
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", filepath.Join(dir, file), err)
		os.Exit(1)
	}

	var doc map[string][]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", file, err)
		os.Exit(1)
	}

	records := make(map[string]string)
	for _, entry := range doc[key] {
		fields := entry
		if h, ok := entry["Header"].(map[string]any); ok {
			fields = h
		}

		id, _ := fields[idField].(string)
		body, _ := fields[bodyField].(string)
		if id != "" {
			records[id] = body
		}
	}

	return records
}

func compare(rec1, rec2 map[string]string) (missing1, missing2, different []string) {
	for id := range rec1 {
		if _, ok := rec2[id]; !ok {
			missing1 = append(missing1, id)
		}
	}

	for id := range rec2 {
		if _, ok := rec1[id]; !ok {
			missing2 = append(missing2, id)
		}
	}

	for id, body1 := range rec1 {
		if body2, ok := rec2[id]; ok && body1 != body2 {
			different = append(different, id)
		}
	}

	return
}

func printDiff(file string, missing1, missing2, different []string) {
	fmt.Printf("\n✗ %s differs:\n", file)

	if len(missing1) > 0 {
		fmt.Printf("  - Records in pack1 but not in pack2: %d\n", len(missing1))
		for _, id := range missing1 {
			fmt.Printf("      %s\n", id)
		}
	}

	if len(missing2) > 0 {
		fmt.Printf("  - Records in pack2 but not in pack1: %d\n", len(missing2))
		for _, id := range missing2 {
			fmt.Printf("      %s\n", id)
		}
	}

	if len(different) > 0 {
		fmt.Printf("  - Records with different content: %d\n", len(different))
		for _, id := range different {
			fmt.Printf("      %s\n", id)
		}
	}
}
