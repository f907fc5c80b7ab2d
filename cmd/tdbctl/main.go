// Command tdbctl is a minimal inspector for tdb database files: it opens a
// file read-only and either checks its invariants or dumps its keys,
// per SPEC_FULL.md §6's note that a command-line inspector is useful but
// out of scope for a full specification beyond this minimal interface.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/localkv/tdb"
)

func main() {
	var (
		checkOnly = pflag.BoolP("check", "c", false, "verify file structure and exit")
		dump      = pflag.BoolP("dump", "d", false, "print every key and value length")
		showStats = pflag.BoolP("stats", "s", false, "print allocation/commit counters on exit")
	)
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: tdbctl [--check] [--dump] [--stats] <file>")
		os.Exit(2)
	}
	path := pflag.Arg(0)

	db, err := tdb.Open(path, tdb.ForReading)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tdbctl: open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()

	if *checkOnly {
		if err := db.Check(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "tdbctl: check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("ok")
	}

	if *dump {
		err := db.Traverse(ctx, func(key, value []byte) bool {
			fmt.Printf("%q\t%d bytes\n", key, len(value))
			return true
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "tdbctl: traverse failed: %v\n", err)
			os.Exit(1)
		}
	}

	if *showStats {
		s := db.Stats()
		fmt.Printf("allocs=%d frees=%d expansions=%d commits=%d rollbacks=%d lock_waits=%d seqnum=%d\n",
			s.Allocs, s.Frees, s.Expansions, s.Commits, s.Rollbacks, s.LockWaits, db.SeqNum())
	}
}
