package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
)

// Exit codes: 0 success or awaiting input, 1 invalid configuration,
// 2 cancelled.
func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "cancelled")
		os.Exit(2)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
