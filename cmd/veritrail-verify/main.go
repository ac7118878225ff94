// Command veritrail-verify checks an evidence pack independently of
// the service that produced it: every hash, chain link, Merkle root,
// inclusion proof and anchor proof is recomputed from the pack files
// alone.
package main

import (
	"flag"
	"fmt"
	"os"

	"VeriTrail/internal/verify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

// run verifies the pack and reports through the exit status: 0 means
// verified, 1 means at least one check failed.
func run() error {
	packDir := flag.String("pack", "", "Evidence pack directory")
	flag.Parse()

	dir := *packDir
	if dir == "" {
		dir = flag.Arg(0)
	}
	if dir == "" {
		flag.Usage()
		return fmt.Errorf("no pack directory given")
	}

	report, err := verify.VerifyPack(dir)
	if err != nil {
		return err
	}

	report.WriteText(os.Stdout)

	if !report.Passed() {
		os.Exit(1)
	}

	return nil
}
