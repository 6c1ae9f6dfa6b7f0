// catalogd is the tool catalog automation service.
// It serves the catalog and its operator controls over HTTP, runs discovery
// and refresh jobs, and checks catalog data quality.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/toolscout/catalogd/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "catalogd:", err)
		os.Exit(1)
	}
}
