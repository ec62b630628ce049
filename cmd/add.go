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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valpere/searchrefine/internal/query"
	"github.com/valpere/searchrefine/internal/refine"
)

var (
	addInput   string
	addOutput  string
	addNode    string
	addSchema  string
	addService string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Merge a single refinement node into a search request",
	Long: `Merge one terminal node, or a group pairing a terminal with its nested
attribute, into the request's refinements group. Values already present are
skipped, so repeated selections do not duplicate criteria.

Examples:
  searchrefine add -i request.json --node terminal.json
  searchrefine add -i request.json --node pair.json --schema chemical --service text_chem`,
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringVarP(&addInput, "input", "i", "-", "Request JSON file (- for stdin)")
	addCmd.Flags().StringVarP(&addOutput, "output", "o", "-", "Output file (- for stdout)")
	addCmd.Flags().StringVar(&addNode, "node", "", "JSON file with the refinement node (required)")
	addCmd.Flags().StringVar(&addSchema, "schema", refine.DefaultSchema, "Metadata schema for attribute lookup")
	addCmd.Flags().StringVar(&addService, "service", refine.DefaultService, "Service group receiving the node")
	_ = addCmd.MarkFlagRequired("node")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if addInput == "-" && addNode == "-" {
		return fmt.Errorf("request and node cannot both be read from stdin")
	}

	data, err := readInput(addNode)
	if err != nil {
		return fmt.Errorf("failed to read node: %w", err)
	}
	node, err := query.UnmarshalNode(data)
	if err != nil {
		return err
	}

	req, err := readRequest(addInput)
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

	logger.Debug("Merging refinement",
		zap.String("schema", addSchema),
		zap.String("service", addService))

	if err := builder.AddRefinement(ctx, req, node, addSchema, addService); err != nil {
		return fmt.Errorf("failed to add refinement: %w", err)
	}

	recordRequest(ctx, db, "add", "", req)
	return writeRequest(addOutput, req)
}
