// Package main provides lode, the command line tool for lodestone
// migrations. Models are declared in YAML files; lode turns them into
// migrations carrying SQL for every configured backend and moves a database
// along the migration chain.
//
// Usage:
//
//	lode init <backend> <connstr>   # Save the connection spec
//	lode makemigration [name]       # Commit the models as a migration
//	lode describe [name|current]    # Show what a migration changes
//	lode migrate [name]             # Apply unapplied migrations
//	lode rollback [name]            # Roll back one migration, or to name
//	lode list                       # Show applied and pending migrations
//	lode embed [path]               # Generate Go code embedding the chain
//	lode verify                     # Check migrations against lode.lock
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hlop3z/lodestone/internal/cli"
)

// version is set via ldflags during build: -ldflags="-X main.version=v1.0.0"
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(newApp(os.Stdout, os.Stderr)).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprint(os.Stderr, cli.FormatError(err))
		os.Exit(1)
	}
}
