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
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/valpere/searchrefine/internal/refine"
)

var (
	refineInput      string
	refineOutput     string
	refineSelections []string
	refineFile       string
	refineResultType string
)

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Apply a batch of refinement selections to a search request",
	Long: `Translate UI refinement selections into query nodes and append them to the
request as a new AND group under the result type's service group.

Selections come from repeated --refinement attribute=value flags, a YAML or
JSON file of {attribute, values} items, or both (file first).

Examples:
  searchrefine refine -i request.json --refinement rcsb_entry_info.resolution_combined="1.0 - 1.5"
  searchrefine refine -i - --refinements selections.yaml --result-type mol_definition`,
	RunE: runRefine,
}

func init() {
	rootCmd.AddCommand(refineCmd)

	refineCmd.Flags().StringVarP(&refineInput, "input", "i", "-", "Request JSON file (- for stdin)")
	refineCmd.Flags().StringVarP(&refineOutput, "output", "o", "-", "Output file (- for stdout)")
	refineCmd.Flags().StringArrayVar(&refineSelections, "refinement", nil, "Selection as attribute=value (repeatable)")
	refineCmd.Flags().StringVar(&refineFile, "refinements", "", "YAML or JSON file with a list of {attribute, values}")
	refineCmd.Flags().StringVar(&refineResultType, "result-type", refine.DefaultResultType, "Result type (entry, mol_definition, ...)")
}

func runRefine(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var refinements []refine.Refinement
	if refineFile != "" {
		fromFile, err := loadRefinements(refineFile)
		if err != nil {
			return err
		}
		refinements = append(refinements, fromFile...)
	}
	fromFlags, err := parseRefinements(refineSelections)
	if err != nil {
		return err
	}
	refinements = append(refinements, fromFlags...)
	if len(refinements) == 0 {
		return fmt.Errorf("no refinements given: use --refinement or --refinements")
	}

	req, err := readRequest(refineInput)
	if err != nil {
		return err
	}

	builder, db, err := buildBuilder(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	logger.Info("Applying refinements",
		zap.Int("attributes", len(refinements)),
		zap.String("result_type", refineResultType))

	if err := builder.AddRefinements(ctx, req, refinements, refineResultType); err != nil {
		return fmt.Errorf("failed to apply refinements: %w", err)
	}

	recordRequest(ctx, db, "refine", refineResultType, req)
	return writeRequest(refineOutput, req)
}

// parseRefinements groups attribute=value pairs by attribute, keeping the
// order in which attributes and values first appear.
func parseRefinements(pairs []string) ([]refine.Refinement, error) {
	var out []refine.Refinement
	index := make(map[string]int)

	for _, p := range pairs {
		attr, value, ok := strings.Cut(p, "=")
		attr = strings.TrimSpace(attr)
		if !ok || attr == "" {
			return nil, fmt.Errorf("invalid refinement %q: expected attribute=value", p)
		}
		i, seen := index[attr]
		if !seen {
			i = len(out)
			index[attr] = i
			out = append(out, refine.Refinement{Attribute: attr})
		}
		out[i].Values = append(out[i].Values, value)
	}
	return out, nil
}

// loadRefinements reads a list of refinements. YAML is a superset of JSON,
// so one decoder covers both.
func loadRefinements(path string) ([]refine.Refinement, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read refinements: %w", err)
	}
	var refinements []refine.Refinement
	if err := yaml.Unmarshal(data, &refinements); err != nil {
		return nil, fmt.Errorf("failed to decode refinements %s: %w", path, err)
	}
	for i, r := range refinements {
		if r.Attribute == "" {
			return nil, fmt.Errorf("refinement %d in %s has no attribute", i, path)
		}
	}
	return refinements, nil
}
