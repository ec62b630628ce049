package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/valpere/searchrefine/internal/metadata"
)

type persistentLookup struct {
	store  *Store
	next   metadata.Lookup
	logger *zap.Logger
}

// Lookup returns a metadata.Lookup that answers from the database first and
// asks next only for attributes it has not stored yet. Whatever next returns,
// including the absence of metadata, is persisted so later runs skip it.
func (s *Store) Lookup(next metadata.Lookup, logger *zap.Logger) metadata.Lookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &persistentLookup{store: s, next: next, logger: logger}
}

func (l *persistentLookup) Lookup(ctx context.Context, schema string, attributes []string) (map[string]metadata.Metadata, error) {
	out := make(map[string]metadata.Metadata, len(attributes))
	var missing []string
	for _, a := range attributes {
		m, err := l.store.GetMetadata(ctx, schema, a)
		switch {
		case err == nil:
			out[a] = m
		case errors.Is(err, metadata.ErrNotFound):
			missing = append(missing, a)
		default:
			return nil, fmt.Errorf("failed to read metadata cache: %w", err)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := l.next.Lookup(ctx, schema, missing)
	if err != nil {
		return nil, err
	}

	for _, a := range missing {
		m := fetched[a]
		out[a] = m
		if err := l.store.SaveMetadata(ctx, schema, a, m); err != nil {
			l.logger.Warn("Failed to persist attribute metadata",
				zap.String("schema", schema),
				zap.String("attribute", a),
				zap.Error(err))
		}
	}
	return out, nil
}
