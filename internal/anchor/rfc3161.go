package anchor

import (
	"bytes"
	"context"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"net/http"

	"VeriTrail/internal/batch"
	"VeriTrail/internal/digest"
)

// RFC3161Target submits the root digest to a time-stamp authority as
// a DER-encoded TimeStampReq and keeps the returned token opaque. The
// contract is submit digest, receive token; parsing or validating the
// token is the verifier's business, not ours.
type RFC3161Target struct {
	tsaURL string
	client *http.Client
}

// NewRFC3161Target creates a time-stamp authority target.
func NewRFC3161Target(tsaURL string, client *http.Client) *RFC3161Target {
	return &RFC3161Target{tsaURL: tsaURL, client: client}
}

// Name returns the target name recorded on anchor records.
func (t *RFC3161Target) Name() string { return TargetRFC3161 }

// timeStampReq is the request shell from RFC 3161 section 2.4.1,
// reduced to the fields a submit-and-store round trip needs.
type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	CertReq        bool `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// hashAlgorithmOID maps a digest algorithm to its X.509 identifier.
// BLAKE3 has no assigned OID, so a stream hashed with it cannot use a
// time-stamp authority; that is a configuration error, not a retry.
func hashAlgorithmOID(algo digest.Algorithm) (asn1.ObjectIdentifier, error) {
	switch algo {
	case digest.SHA256:
		return asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}, nil
	case digest.SHA3_256:
		return asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 8}, nil
	default:
		return nil, fmt.Errorf("no OID for hash algorithm %s: %w", algo, ErrNotConfigured)
	}
}

// Anchor encodes a TimeStampReq for the batch root and posts it with
// the RFC 3161 media types. The token comes back as the raw proof
// blob.
func (t *RFC3161Target) Anchor(ctx context.Context, b *batch.Batch) (map[string]any, []byte, error) {
	if t.tsaURL == "" {
		return nil, nil, fmt.Errorf("time-stamp authority URL missing: %w", ErrNotConfigured)
	}

	algo, err := digest.Parse(b.HashAlgo)
	if err != nil {
		return nil, nil, fmt.Errorf("batch %s:\n%w", b.BatchID, err)
	}
	oid, err := hashAlgorithmOID(algo)
	if err != nil {
		return nil, nil, err
	}

	rootBytes, err := hex.DecodeString(b.MerkleRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("decode root of batch %s:\n%w", b.BatchID, err)
	}

	req := timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  oid,
				Parameters: asn1.NullRawValue,
			},
			HashedMessage: rootBytes,
		},
		CertReq: true,
	}
	der, err := asn1.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("encode timestamp request:\n%w", err)
	}

	status, token, err := postBytes(ctx, t.client, t.tsaURL, "application/timestamp-query", bytes.NewReader(der))
	if err != nil {
		return nil, nil, fmt.Errorf("submit timestamp request:\n%w", err)
	}
	if status < 200 || status >= 300 {
		return nil, nil, fmt.Errorf("time-stamp authority returned status %d: %s", status, excerpt(token))
	}
	if len(token) == 0 {
		return nil, nil, fmt.Errorf("time-stamp authority returned an empty token")
	}

	proof := map[string]any{
		"tsa":         t.tsaURL,
		"digest":      b.MerkleRoot,
		"token_bytes": len(token),
	}
	return proof, token, nil
}
