/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/searchrefine/internal/config"
	"github.com/valpere/searchrefine/internal/metadata"
	"github.com/valpere/searchrefine/internal/normalize"
	"github.com/valpere/searchrefine/internal/query"
	"github.com/valpere/searchrefine/internal/refine"
	"github.com/valpere/searchrefine/internal/store"
)

// noMetadata answers every lookup with "nothing registered".
var noMetadata = metadata.LookupFunc(func(ctx context.Context, schema string, attributes []string) (map[string]metadata.Metadata, error) {
	return map[string]metadata.Metadata{}, nil
})

// buildLookup constructs the metadata source from configuration: a local
// registry file wins over the remote service. configured is false when
// neither is set and every attribute resolves to empty metadata.
func buildLookup(c *config.Config) (lookup metadata.Lookup, configured bool, err error) {
	switch {
	case c.Metadata.Registry != "":
		l, err := metadata.LoadFile(c.Metadata.Registry)
		if err != nil {
			return nil, false, err
		}
		return l, true, nil
	case c.Metadata.URL != "":
		return metadata.NewHTTPLookup(c.Metadata.URL, c.Metadata.HTTP(), logger), true, nil
	default:
		logger.Warn("No metadata source configured; facet filters and nested attributes are disabled")
		return noMetadata, false, nil
	}
}

// openStore opens the persistent cache unless it is disabled. A nil store
// with a nil error means caching is off.
func openStore(c *config.Config) (*store.Store, error) {
	if c.Cache.Disabled || c.Cache.DB == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Cache.DB), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := store.New(c.Cache.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// buildBuilder wires lookup, persistent store, in-memory cache and value
// rules into a refine.Builder. The returned store may be nil. Without a
// metadata source the store only records history, so nothing is persisted
// that would hide a source configured later.
func buildBuilder(c *config.Config) (*refine.Builder, *store.Store, error) {
	lookup, configured, err := buildLookup(c)
	if err != nil {
		return nil, nil, err
	}

	db, err := openStore(c)
	if err != nil {
		return nil, nil, err
	}
	if db != nil && configured {
		lookup = db.Lookup(lookup, logger)
	}

	cacheOpts := []metadata.CacheOption{
		metadata.WithLogger(logger),
		metadata.WithFetchTimeout(c.Metadata.Timeout * time.Duration(c.Metadata.MaxAttempts)),
	}
	var cache *metadata.Cache
	if c.Cache.MaxEntries > 0 {
		cache, err = metadata.NewBoundedCache(lookup, c.Cache.MaxEntries, cacheOpts...)
		if err != nil {
			if db != nil {
				db.Close()
			}
			return nil, nil, err
		}
	} else {
		cache = metadata.NewCache(lookup, cacheOpts...)
	}

	b := refine.New(cache,
		refine.WithRules(buildRules(c)),
		refine.WithStrictValues(c.Values.Strict),
		refine.WithLogger(logger),
	)
	return b, db, nil
}

func buildRules(c *config.Config) normalize.Rules {
	if len(c.Values.NumericRange) == 0 && len(c.Values.DateRange) == 0 {
		return normalize.Default()
	}
	return normalize.NewRules(c.Values.NumericRange, c.Values.DateRange)
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// readRequest loads a request; an empty input yields an empty request.
func readRequest(path string) (*query.Request, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	req := &query.Request{}
	if len(data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return req, nil
}

func writeRequest(path string, req *query.Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// recordRequest saves req to the history table when a store is open.
func recordRequest(ctx context.Context, db *store.Store, operation, resultType string, req *query.Request) {
	if db == nil {
		return
	}
	id, err := db.SaveRequest(ctx, operation, resultType, req)
	if err != nil {
		logger.Warn("Failed to record request", zap.Error(err))
		return
	}
	logger.Debug("Recorded request", zap.String("id", id), zap.String("operation", operation))
}
