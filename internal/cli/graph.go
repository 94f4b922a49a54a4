package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph [dir]",
	Short: "Print the dependency graph in DOT format",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument(args)
		if err != nil {
			return err
		}
		graph, err := engine.BuildGraph(doc)
		if err != nil {
			return err
		}
		fmt.Print(graph.Dot())
		return nil
	},
}
