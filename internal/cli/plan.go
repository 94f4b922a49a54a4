package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
)

var (
	planVars    map[string]string
	planRefresh bool
)

var planCmd = &cobra.Command{
	Use:   "plan [dir]",
	Short: "Show what actions would reconcile the configuration",
	Long: `Compares the configuration against the recorded state and prints the
ordered set of actions needed to reconcile them, without executing any.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringToStringVar(&planVars, "var", nil, "Set input variables (format: key=value)")
	planCmd.Flags().BoolVar(&planRefresh, "refresh", false, "Read live attributes before diffing to surface drift")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	doc, err := loadDocument(args)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	eng := engine.New(newRegistry())
	eng.Refresh = planRefresh

	plan, err := eng.Plan(ctx, doc, store, planVars)
	if err != nil {
		return err
	}

	if plan.Summary.Empty() {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		renderOutputs(plan.Outputs)
		return nil
	}

	fmt.Println("Loom will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)
	renderOutputs(plan.Outputs)
	return nil
}
