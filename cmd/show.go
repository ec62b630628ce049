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
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valpere/searchrefine/internal/query"
)

var (
	// groupStyle for logical operators
	groupStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("81"))

	// labelStyle for group labels
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	// serviceStyle for terminal services
	serviceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// attributeStyle for terminal attributes
	attributeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))
)

var (
	showInput string
	showID    string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Render a search request as an indented tree",
	Long: `Print the query tree of a request file, or of a request recorded in the
history by a previous refine or add run (--id).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var req *query.Request
		if showID != "" {
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			if db == nil {
				return fmt.Errorf("request history is unavailable with the cache disabled")
			}
			defer db.Close()

			entry, err := db.GetRequest(context.Background(), showID)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s (%s, %s)\n",
				serviceStyle.Render("Request"), entry.ID, entry.Operation,
				entry.CreatedAt.Format("2006-01-02 15:04"))
			req = entry.Request
		} else {
			var err error
			req, err = readRequest(showInput)
			if err != nil {
				return err
			}
		}

		renderTree(os.Stdout, req.Query, 0)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().StringVarP(&showInput, "input", "i", "-", "Request JSON file (- for stdin)")
	showCmd.Flags().StringVar(&showID, "id", "", "Show a recorded request by ID")
}

// renderTree writes one line per node, children indented under their group.
func renderTree(w io.Writer, n query.Node, depth int) {
	indent := strings.Repeat("  ", depth)

	switch x := n.(type) {
	case nil:
		fmt.Fprintf(w, "%s(empty)\n", indent)
	case *query.Group:
		line := groupStyle.Render(strings.ToUpper(string(x.LogicalOperator)))
		if x.Label != "" {
			line += " " + labelStyle.Render("["+x.Label+"]")
		}
		fmt.Fprintf(w, "%s%s\n", indent, line)
		for _, child := range x.Nodes {
			renderTree(w, child, depth+1)
		}
	case *query.Terminal:
		value, err := json.Marshal(x.Parameters.Value)
		if err != nil {
			value = []byte("?")
		}
		fmt.Fprintf(w, "%s%s %s %s %s\n", indent,
			serviceStyle.Render(x.Service+":"),
			attributeStyle.Render(x.Parameters.Attribute),
			x.Parameters.Operator, value)
	}
}
