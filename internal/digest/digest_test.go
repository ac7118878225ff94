package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		want Algorithm
	}{
		{"", SHA256},
		{"SHA256", SHA256},
		{"sha256", SHA256},
		{"SHA-256", SHA256},
		{"BLAKE3", BLAKE3},
		{"blake3", BLAKE3},
		{"SHA3-256", SHA3_256},
		{"sha3_256", SHA3_256},
	}

	for _, c := range cases {
		got, err := Parse(c.name)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", c.name, err)
			continue
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := Parse("md5"); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestSumSHA256(t *testing.T) {
	data := []byte("hello")

	got := SHA256.Sum(data)
	want := sha256.Sum256(data)

	if got != want {
		t.Errorf("SHA256.Sum mismatch: %x != %x", got, want)
	}
}

// TestSumKnownVector checks SHA-256 against the FIPS 180-4 "abc" vector.
func TestSumKnownVector(t *testing.T) {
	got := SHA256.Sum([]byte("abc"))

	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if hex.EncodeToString(got[:]) != want {
		t.Errorf("SHA256(abc) = %x, want %s", got, want)
	}
}

func TestNewMatchesSum(t *testing.T) {
	data := []byte("some event bytes")

	for _, algo := range []Algorithm{SHA256, BLAKE3, SHA3_256} {
		h := algo.New()
		h.Write(data)

		var streamed [Size]byte
		copy(streamed[:], h.Sum(nil))

		if streamed != algo.Sum(data) {
			t.Errorf("%s: streaming and one-shot digests differ", algo)
		}
	}
}

func TestAlgorithmsDiffer(t *testing.T) {
	data := []byte("same input")

	a := SHA256.Sum(data)
	b := BLAKE3.Sum(data)
	c := SHA3_256.Sum(data)

	if a == b || a == c || b == c {
		t.Error("distinct algorithms produced identical digests")
	}
}
