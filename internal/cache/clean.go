package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// Referencer reports which cached archives are still in use.
type Referencer interface {
	ReferencedHashes(ctx context.Context) (map[string]bool, error)
}

// CleanResult contains the outcome of a cache clean.
type CleanResult struct {
	Scanned    int
	Deleted    int
	Referenced int
	FreedBytes int64
}

// Clean removes cached archives that no installed package references.
func Clean(ctx context.Context, store *Store, refs Referencer, logger *slog.Logger) (*CleanResult, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	result := &CleanResult{}

	referenced, err := refs.ReferencedHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("get referenced archives: %w", err)
	}
	result.Referenced = len(referenced)

	entries, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cached archives: %w", err)
	}
	result.Scanned = len(entries)

	for _, e := range entries {
		if referenced[e.Hash] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := store.Delete(ctx, e.Hash); err != nil {
			logger.Warn("cache clean: failed to delete archive", "hash", e.Hash, "package", e.Package, "error", err)
			continue
		}
		logger.Debug("cache clean: deleted archive", "hash", e.Hash, "package", e.Package)
		result.Deleted++
		result.FreedBytes += e.Size
	}

	logger.Info("cache clean complete",
		"scanned", result.Scanned,
		"referenced", result.Referenced,
		"deleted", result.Deleted,
	)

	return result, nil
}
