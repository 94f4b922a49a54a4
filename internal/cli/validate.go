package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Check configuration syntax and references",
	Long: `Parses the configuration, resolves every reference, and checks the
dependency graph for cycles, without reading state or calling any
provider API.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := loadDocument(args)
	if err != nil {
		return err
	}

	if _, err := engine.BuildGraph(doc); err != nil {
		return err
	}

	fmt.Printf("Configuration is valid: %d resource(s), %d variable(s), %d output(s).\n",
		len(doc.Resources), len(doc.Variables), len(doc.Outputs))
	return nil
}
