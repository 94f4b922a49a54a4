package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
)

var (
	applyVars        map[string]string
	applyAutoApprove bool
	applyRefresh     bool
	applyParallelism int
	applyTimeout     time.Duration
	applyFailFast    bool
)

var applyCmd = &cobra.Command{
	Use:   "apply [dir]",
	Short: "Reconcile infrastructure to match the configuration",
	Long: `Plans and executes the actions needed to make real infrastructure
match the configuration, updating the state store as each resource
succeeds.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringToStringVar(&applyVars, "var", nil, "Set input variables (format: key=value)")
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().BoolVar(&applyRefresh, "refresh", false, "Read live attributes before diffing to surface drift")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Maximum concurrent provider actions (0 = default)")
	applyCmd.Flags().DurationVar(&applyTimeout, "timeout", 0, "Per-action timeout (0 = default)")
	applyCmd.Flags().BoolVar(&applyFailFast, "fail-fast", false, "Stop scheduling new actions after the first failure")
}

func runApply(cmd *cobra.Command, args []string) error {
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

	if err := store.Lock(ctx); err != nil {
		return err
	}
	defer store.Unlock(ctx)

	eng := engine.New(newRegistry())
	eng.Refresh = applyRefresh
	eng.FailFast = applyFailFast
	if applyParallelism > 0 {
		eng.Parallelism = applyParallelism
	}
	if applyTimeout > 0 {
		eng.Timeout = applyTimeout
	}

	plan, err := eng.Plan(ctx, doc, store, applyVars)
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

	if !applyAutoApprove {
		if !confirm("Do you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d change(s)...\n\n", len(plan.Changes))

	result, err := eng.Apply(ctx, doc, plan, store, applyVars, applyProgress)
	renderApplyResult(result, plan.Summary)
	if err != nil {
		return err
	}
	renderOutputs(plan.Outputs)
	return nil
}
