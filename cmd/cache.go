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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/valpere/searchrefine/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the attribute metadata cache",
	Long:  `List, inspect, invalidate and clear the SQLite attribute metadata cache.`,
}

var historyLimit int

// openCacheStore opens the configured database even when caching is
// disabled for refinement runs.
func openCacheStore() (*store.Store, error) {
	c := *cfg
	c.Cache.Disabled = false
	db, err := openStore(&c)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, fmt.Errorf("no database path configured")
	}
	return db, nil
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached attribute metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCacheStore()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.ListMetadata(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No cached metadata.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCHEMA\tATTRIBUTE\tFACET\tNESTED\tUSED\tLAST USED\tINVALID")
		for _, e := range entries {
			nested := e.NestedAttribute
			if nested == "" {
				nested = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%d\t%s\t%v\n",
				e.ID, e.Schema, e.Attribute, e.HasFacetFilter, nested,
				e.UsageCount, humanize.Time(e.LastUsed), e.Invalidated)
		}
		return w.Flush()
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show metadata cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCacheStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Total entries:   %s\n", humanize.Comma(int64(stats.TotalEntries)))
		fmt.Printf("Active entries:  %s\n", humanize.Comma(int64(stats.ActiveEntries)))
		fmt.Printf("Invalid entries: %s\n", humanize.Comma(int64(stats.InvalidEntries)))
		fmt.Printf("Total usage:     %s\n", humanize.Comma(int64(stats.TotalUsage)))
		fmt.Printf("Saved requests:  %s\n", humanize.Comma(int64(stats.Requests)))
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <id>",
	Short: "Mark a cached entry stale so it is fetched again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCacheStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.InvalidateMetadata(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to invalidate entry: %w", err)
		}
		fmt.Printf("Invalidated entry: %s\n", args[0])
		return nil
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a cached entry by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCacheStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteMetadata(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		fmt.Printf("Deleted entry: %s\n", args[0])
		return nil
	},
}

var cacheHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded requests, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCacheStore()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.ListRequests(context.Background(), historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list requests: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No recorded requests.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tOPERATION\tRESULT TYPE\tCREATED")
		for _, e := range entries {
			resultType := e.ResultType
			if resultType == "" {
				resultType = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Operation, resultType, humanize.Time(e.CreatedAt))
		}
		return w.Flush()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCacheStore()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.ClearMetadata(context.Background())
		if err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Printf("Cleared %d entries from the metadata cache.\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheHistoryCmd)

	cacheHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of requests to list")
}
