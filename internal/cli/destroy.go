package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/engine"
)

var (
	destroyVars        map[string]string
	destroyAutoApprove bool
)

var destroyCmd = &cobra.Command{
	Use:   "destroy [dir]",
	Short: "Destroy all recorded infrastructure",
	Long: `Destroys every resource recorded in the state store, in reverse
dependency order. The configuration directory, when present, supplies
provider settings; destroy still works from state alone.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().StringToStringVar(&destroyVars, "var", nil, "Set input variables (format: key=value)")
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Configuration is optional for destroy.
	var doc *config.Document
	if dir, err := resolveConfigDir(args); err == nil {
		if loaded, err := config.LoadDir(dir); err == nil {
			doc = loaded
		}
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Lock(ctx); err != nil {
		return err
	}
	defer store.Unlock(ctx)

	eng := engine.New(newRegistry())

	plan, err := eng.PlanDestroy(ctx, doc, store, destroyVars)
	if err != nil {
		return err
	}

	if plan.Summary.Empty() {
		fmt.Println("No resources to destroy.")
		return nil
	}

	fmt.Printf("Loom will destroy %d resource(s):\n", plan.Summary.Delete)
	renderPlanChanges(plan)

	if !destroyAutoApprove {
		if !confirm("Do you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resource(s)...\n\n", len(plan.Changes))

	result, err := eng.Apply(ctx, doc, plan, store, destroyVars, applyProgress)
	renderApplyResult(result, plan.Summary)
	return err
}
