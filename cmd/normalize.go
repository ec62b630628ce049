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
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <attribute> <value>...",
	Short: "Show how raw refinement values are turned into query operators",
	Long: `Print the operator and value each raw selection normalizes to for the given
attribute, using the configured numeric and date range rules. With --strict
the command fails on the first value that does not parse.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules := buildRules(cfg)
		attribute := args[0]

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INPUT\tOPERATOR\tVALUE")
		for _, raw := range args[1:] {
			if cfg.Values.Strict {
				if err := rules.Validate(attribute, raw); err != nil {
					return err
				}
			}
			op, value := rules.Normalize(attribute, raw)
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("failed to encode value: %w", err)
			}
			fmt.Fprintf(w, "%q\t%s\t%s\n", raw, op, encoded)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
}
