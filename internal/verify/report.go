package verify

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// WriteText renders the report for humans: a header with the pack
// location and counts, one line per check, and an overall verdict.
func (r *Report) WriteText(w io.Writer) {
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Evidence Pack Verification Report")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Pack:     %s\n", r.Dir)
	fmt.Fprintf(w, "Verified: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Records:  %d events, %d batches, %d anchors\n", r.Events, r.Batches, r.Anchors)
	fmt.Fprintln(w)

	for _, c := range r.Checks {
		mark := "PASS"
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  [%s] %-16s %s\n", mark, c.Name, c.Detail)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	if r.Passed() {
		fmt.Fprintln(w, "Overall: VERIFIED")
		fmt.Fprintln(w, "Every hash, chain link and proof was recomputed independently")
		fmt.Fprintln(w, "and matches the stored values.")
	} else {
		fmt.Fprintf(w, "Overall: FAILED (%d checks)\n", len(r.Failed()))
		fmt.Fprintln(w, "Some recomputed values do not match the stored ones. The pack")
		fmt.Fprintln(w, "may have been tampered with or corrupted.")
	}
	fmt.Fprintln(w, rule)
}
