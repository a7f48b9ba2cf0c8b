// tallyctl inspects a tally storage directory offline: it queries shards,
// summarises them, exports them to Parquet and runs retention by hand.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	a := newApp(os.Stdout)
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
