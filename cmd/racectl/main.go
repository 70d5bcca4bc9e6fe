// Command racectl runs ingestion and driver matching from the command line,
// for cron jobs and operator fixes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	ctx := newCommandContext(buildApp)
	cmd := newRootCommand(ctx)
	err := cmd.Execute()
	ctx.close()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
