// solidgrowth runs the referral-gated investment ledger service.
package main

import (
	"fmt"
	"os"

	"solidgrowth/cmd/solidgrowth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "solidgrowth exited with error: %v\n", err)
		os.Exit(1)
	}
}
