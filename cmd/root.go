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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/valpere/searchrefine/internal/config"
)

var version = "0.1.0"

var (
	configFile string
	verbose    bool

	v      = viper.New()
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "searchrefine",
	Short: "Search request refinement builder",
	Long: `A CLI application that inserts refinement criteria into search request
query trees, resolving facet filters and nested attributes from schema metadata.

Use "searchrefine refine --help" to apply a batch of UI selections and
"searchrefine add --help" to merge a single criterion.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, configFile)
		if err != nil {
			return err
		}

		logger, err = newLogger(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default ./searchrefine.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.String("metadata-url", "", "Base URL of the attribute metadata service")
	pf.String("registry", "", "YAML attribute metadata registry (used instead of --metadata-url)")
	pf.String("db", "./data/searchrefine.db", "Database path for the metadata cache and request history")
	pf.Bool("no-cache", false, "Disable the persistent metadata cache")
	pf.Bool("strict", false, "Reject refinement values that do not parse")

	_ = v.BindPFlag("metadata.url", pf.Lookup("metadata-url"))
	_ = v.BindPFlag("metadata.registry", pf.Lookup("registry"))
	_ = v.BindPFlag("cache.db", pf.Lookup("db"))
	_ = v.BindPFlag("cache.disabled", pf.Lookup("no-cache"))
	_ = v.BindPFlag("values.strict", pf.Lookup("strict"))
}
