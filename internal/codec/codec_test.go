package codec

import (
	"bytes"
	"testing"
)

type record struct {
	ID    string   `json:"id"`
	Count int      `json:"count"`
	Tags  []string `json:"tags,omitempty"`
}

func TestRoundTrip(t *testing.T) {
	in := record{ID: "b-42", Count: 7, Tags: []string{"x", "y"}}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out record
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.ID != in.ID || out.Count != in.Count || len(out.Tags) != 2 {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

// TestDeterministic verifies the same value always encodes to the
// same bytes, including map-keyed data.
func TestDeterministic(t *testing.T) {
	v := map[string]int{"zebra": 1, "alpha": 2, "mid": 3}

	first, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	for i := 0; i < 50; i++ {
		again, err := Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		if !bytes.Equal(first, again) {
			t.Fatal("encoding varies across runs")
		}
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"id": "x", "count": 1, "extra": "future"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out record
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal with unknown field: %v", err)
	}

	if out.ID != "x" || out.Count != 1 {
		t.Errorf("known fields lost: %+v", out)
	}
}

func TestAnyMapDecoding(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	top, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", out)
	}

	if _, ok := top["nested"].(map[string]any); !ok {
		t.Errorf("expected nested map[string]any, got %T", top["nested"])
	}
}
