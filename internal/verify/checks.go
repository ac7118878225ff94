package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"VeriTrail/internal/canonical"
	"VeriTrail/internal/digest"
	"VeriTrail/internal/merkle"
)

// checkEventHashes recomputes every event's content hash from the
// header (minus EventHash) and the payload, and compares it to the
// stored value.
func checkEventHashes(r *Report, events []map[string]any) {
	var failed []string

	for _, ev := range events {
		h := header(ev)
		if h == nil {
			failed = append(failed, "<event without Header>")
			continue
		}

		ok, err := recomputeEventHash(ev, h)
		if err != nil || !ok {
			failed = append(failed, str(h, "EventID"))
		}
	}

	if len(failed) > 0 {
		r.add("event hashes", false, "%d/%d events failed hash verification: %s",
			len(failed), len(events), idList(failed))
		return
	}
	r.add("event hashes", true, "all %d event hashes recomputed and matched", len(events))
}

// recomputeEventHash rebuilds the hash preimage the way the recorder
// built it: canonical header without EventHash, then the canonical
// payload, digested with the algorithm the header names.
func recomputeEventHash(ev, h map[string]any) (bool, error) {
	algo, err := digest.Parse(str(h, "HashAlgo"))
	if err != nil {
		return false, err
	}

	headerCopy := make(map[string]any, len(h))
	for k, v := range h {
		if k != "EventHash" {
			headerCopy[k] = v
		}
	}

	payload := make(map[string]any, len(ev))
	for k, v := range ev {
		if k != "Header" {
			payload[k] = v
		}
	}

	headerBytes, err := canonical.Marshal(headerCopy)
	if err != nil {
		return false, err
	}
	payloadBytes, err := canonical.Marshal(payload)
	if err != nil {
		return false, err
	}

	sum := algo.Sum(append(headerBytes, payloadBytes...))

	return strings.EqualFold(hex.EncodeToString(sum[:]), str(h, "EventHash")), nil
}

// checkHashChain walks the events in pack order and verifies each
// PrevHash equals the previous event's EventHash. The first event may
// carry a PrevHash (a pack cut from a longer trail); later breaks are
// failures. Packs recorded without chaining carry no PrevHash anywhere
// and pass vacuously.
func checkHashChain(r *Report, events []map[string]any) {
	var breaks []string
	prevHash := ""

	for i, ev := range events {
		h := header(ev)
		if h == nil {
			continue
		}

		if i > 0 && str(h, "PrevHash") != prevHash {
			breaks = append(breaks, str(h, "EventID"))
		}
		prevHash = str(h, "EventHash")
	}

	if len(breaks) > 0 {
		r.add("hash chain", false, "chain broken at %d events: %s", len(breaks), idList(breaks))
		return
	}
	r.add("hash chain", true, "chain continuity verified across %d events", len(events))
}

// checkMerkleRoots rebuilds each batch's full tree from its EventHashes
// and compares the computed root to the stored one.
func checkMerkleRoots(r *Report, batches []map[string]any) {
	var failed []string

	for _, b := range batches {
		if err := recomputeRoot(b); err != nil {
			failed = append(failed, fmt.Sprintf("%s (%v)", str(b, "BatchID"), err))
		}
	}

	if len(failed) > 0 {
		r.add("merkle roots", false, "%d/%d batches failed root reconstruction: %s",
			len(failed), len(batches), idList(failed))
		return
	}
	r.add("merkle roots", true, "all %d batch roots rebuilt from their event hashes", len(batches))
}

func recomputeRoot(b map[string]any) error {
	algo, err := digest.Parse(str(b, "HashAlgo"))
	if err != nil {
		return err
	}

	rawHashes, _ := b["EventHashes"].([]any)
	if len(rawHashes) == 0 {
		return fmt.Errorf("no event hashes")
	}

	leaves := make([][]byte, len(rawHashes))
	for i, rh := range rawHashes {
		s, _ := rh.(string)
		leaf, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("event hash %d is not hex", i)
		}
		leaves[i] = leaf
	}

	tree, err := merkle.Build(algo, leaves)
	if err != nil {
		return err
	}

	if !strings.EqualFold(tree.RootHex(), str(b, "MerkleRoot")) {
		return fmt.Errorf("computed root %s does not match", tree.RootHex())
	}
	return nil
}

// checkInclusionProofs replays every stored audit path and compares
// the folded result to the proof's claimed root.
func checkInclusionProofs(r *Report, batches []map[string]any) {
	var failed []string
	total := 0

	for _, b := range batches {
		algo, err := digest.Parse(str(b, "HashAlgo"))
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s (%v)", str(b, "BatchID"), err))
			continue
		}

		proofs, _ := b["InclusionProofs"].([]any)
		for _, rawProof := range proofs {
			pm, ok := rawProof.(map[string]any)
			if !ok {
				continue
			}
			total++

			if !merkle.VerifyProof(algo, proofFromMap(pm)) {
				failed = append(failed, str(pm, "EventID"))
			}
		}
	}

	if len(failed) > 0 {
		r.add("inclusion proofs", false, "%d/%d proofs failed verification: %s",
			len(failed), total, idList(failed))
		return
	}
	r.add("inclusion proofs", true, "all %d inclusion proofs verified against their roots", total)
}

// proofFromMap lifts a decoded proof object into the merkle type.
// Malformed steps become empty values and fail verification naturally.
func proofFromMap(pm map[string]any) *merkle.Proof {
	p := &merkle.Proof{
		EventID:    str(pm, "EventID"),
		EventHash:  str(pm, "EventHash"),
		MerkleRoot: str(pm, "MerkleRoot"),
	}

	steps, _ := pm["AuditPath"].([]any)
	for _, rawStep := range steps {
		sm, _ := rawStep.(map[string]any)
		p.AuditPath = append(p.AuditPath, merkle.PathStep{
			Hash:     str(sm, "hash"),
			Position: str(sm, "position"),
		})
	}

	return p
}

// checkAnchors validates each anchor record. LOCAL_FILE proofs are
// recomputed: sha256 over the root's hex string must equal the proof
// digest. External targets carry opaque proofs that only the issuing
// service can attest, so they are checked structurally.
func checkAnchors(r *Report, anchors []map[string]any) {
	var failed []string
	external := 0

	for _, a := range anchors {
		id := str(a, "AnchorID")

		switch target := str(a, "AnchorTarget"); target {
		case "LOCAL_FILE":
			proof, _ := a["AnchorProof"].(map[string]any)
			sum := sha256.Sum256([]byte(str(a, "MerkleRoot")))
			if !strings.EqualFold(hex.EncodeToString(sum[:]), str(proof, "sha256")) {
				failed = append(failed, id)
			}
		case "":
			failed = append(failed, id)
		default:
			if str(a, "MerkleRoot") == "" || id == "" {
				failed = append(failed, id)
			}
			external++
		}
	}

	if len(failed) > 0 {
		r.add("anchors", false, "%d/%d anchor records failed: %s",
			len(failed), len(anchors), idList(failed))
		return
	}
	if external > 0 {
		r.add("anchors", true, "%d anchor records valid (%d external, verify with the issuing service)",
			len(anchors), external)
		return
	}
	r.add("anchors", true, "all %d anchor proofs recomputed and matched", len(anchors))
}

// checkTimeline verifies TimestampInt never decreases across the pack.
func checkTimeline(r *Report, events []map[string]any) {
	var outOfOrder []string
	var prev int64

	for i, ev := range events {
		h := header(ev)
		if h == nil {
			continue
		}

		ts := intField(h, "TimestampInt")
		if i > 0 && ts < prev {
			outOfOrder = append(outOfOrder, str(h, "EventID"))
		}
		prev = ts
	}

	if len(outOfOrder) > 0 {
		r.add("timeline", false, "%d events out of chronological order: %s",
			len(outOfOrder), idList(outOfOrder))
		return
	}
	r.add("timeline", true, "timestamps non-decreasing across %d events", len(events))
}

// checkManifest recomputes the BLAKE3 digest of every file the
// manifest names. A pack without a manifest passes: the manifest is
// our export's seal, not part of the interchange contract.
func checkManifest(r *Report, dir string) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if os.IsNotExist(err) {
		r.add("manifest", true, "no manifest present, skipped")
		return
	}
	if err != nil {
		r.add("manifest", false, "read manifest: %v", err)
		return
	}

	var failed []string
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for _, line := range lines {
		want, name, found := strings.Cut(line, "  ")
		if !found {
			failed = append(failed, fmt.Sprintf("malformed line %q", line))
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			failed = append(failed, name)
			continue
		}
		sum := blake3.Sum256(content)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), want) {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		r.add("manifest", false, "%d manifest entries failed: %s", len(failed), idList(failed))
		return
	}
	r.add("manifest", true, "all %d manifest digests matched", len(lines))
}

// idList joins offender IDs for a failure detail, trimmed so one bad
// pack cannot flood the report.
func idList(ids []string) string {
	const limit = 5
	if len(ids) <= limit {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:limit], ", ") + fmt.Sprintf(" and %d more", len(ids)-limit)
}
