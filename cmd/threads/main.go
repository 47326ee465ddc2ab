// Command threads serves and manages event-sourced discussion threads.
package main

import (
	"context"
	"os"

	"github.com/roach88/threads/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
