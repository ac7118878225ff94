package event

import (
	"encoding/hex"
	"fmt"
	"strings"

	"VeriTrail/internal/canonical"
	"VeriTrail/internal/digest"
)

// ComputeHash returns the content hash of an event as lowercase hex.
//
// The preimage is the canonical JSON of the header with EventHash
// removed, followed by the canonical JSON of the payload union. The
// function is pure: same event, same hash, on any machine.
func ComputeHash(algo digest.Algorithm, e *Event) (string, error) {
	header := e.Header
	header.EventHash = ""

	headerBytes, err := canonical.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("canonicalize header:\n%w", err)
	}

	payloadBytes, err := canonical.Marshal(e.payloadUnion())
	if err != nil {
		return "", fmt.Errorf("canonicalize payload:\n%w", err)
	}

	preimage := make([]byte, 0, len(headerBytes)+len(payloadBytes))
	preimage = append(preimage, headerBytes...)
	preimage = append(preimage, payloadBytes...)

	sum := algo.Sum(preimage)

	return hex.EncodeToString(sum[:]), nil
}

// VerifyHash recomputes an event's hash and compares it to the stored
// EventHash, case-insensitively.
func VerifyHash(e *Event) (bool, error) {
	algo, err := digest.Parse(e.Header.HashAlgo)
	if err != nil {
		return false, err
	}

	computed, err := ComputeHash(algo, e)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(computed, e.Header.EventHash), nil
}
