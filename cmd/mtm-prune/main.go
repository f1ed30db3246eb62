// Command mtm-prune exports MTM account emails and deletes account users
// that lack a permission on a workspace.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args, os.Stdout, os.Stderr); err != nil {
		log.Error().Err(err).Msg("mtm-prune failed")
		stop()
		os.Exit(1)
	}
}
