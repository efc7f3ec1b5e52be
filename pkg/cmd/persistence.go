// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/patchwell/overseer/pkg/persistence"
	"github.com/patchwell/overseer/pkg/persistence/memory"
	"github.com/patchwell/overseer/pkg/persistence/postgresql"
)

// NewPersistence creates the persistence implementation selected by the
// database URL scheme. Binaries fail fast on a bad URL; there is nothing
// useful they can do without storage.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseScheme(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic("failed to initialize postgres persistence: " + err.Error())
		}

		return p
	case "memory", "":
		logger.WarnContext(ctx, "Using in-memory persistence, data will not survive restarts")

		return memory.NewPersistence()
	default:
		panic("unsupported database URL scheme: " + databaseURL + " (supported: postgres://, memory://)")
	}
}

func parseScheme(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return scheme
}
