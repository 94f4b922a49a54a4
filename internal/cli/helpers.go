package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/internal/state"
	"github.com/loomworks/loom/providers/aws"
	"github.com/loomworks/loom/providers/null"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// newRegistry wires up the built-in providers.
func newRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	registry.RegisterFactory("null", null.Factory)
	registry.RegisterFactory("aws", aws.Factory)
	return registry
}

// resolveConfigDir turns the optional positional argument into the
// directory to load configuration from.
func resolveConfigDir(args []string) (string, error) {
	if len(args) == 0 {
		return os.Getwd()
	}
	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", args[0])
	}
	return absPath, nil
}

// openStore builds the state store from the persistent flags.
func openStore(ctx context.Context) (state.Store, error) {
	return state.Open(ctx, state.Config{
		Backend: stateBackend,
		Path:    statePath,
		Options: backendConfig,
	})
}

func actionColor(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return colorGreen
	case ir.ActionDelete:
		return colorRed
	case ir.ActionUpdate, ir.ActionReplace:
		return colorYellow
	default:
		return colorReset
	}
}

func actionVerb(change *ir.Change) string {
	switch {
	case change.Action == ir.ActionCreate && change.Replacing:
		return "replaced (new resource created first)"
	case change.Action == ir.ActionDelete && change.Replacing:
		return "destroyed (replaced resource)"
	case change.Action == ir.ActionCreate:
		return "created"
	case change.Action == ir.ActionUpdate:
		return "updated in-place"
	case change.Action == ir.ActionReplace:
		return "replaced"
	case change.Action == ir.ActionDelete:
		return "destroyed"
	default:
		return "left unchanged"
	}
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		color := actionColor(change.Action)

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Addr, actionVerb(change), colorReset)
		fmt.Printf("%s  %s resource %q %q {%s\n", color, change.Action.Symbol(), change.Addr.Type, change.Addr.Name, colorReset)
		renderAttrDiffs(change.Diff)
		if len(change.ReplacePaths) > 0 {
			fmt.Printf("%s      # %v forces replacement%s\n", color, change.ReplacePaths, colorReset)
		}
		fmt.Printf("%s    }%s\n", color, colorReset)
	}
}

// renderAttrDiffs prints attribute-level differences in stable order.
func renderAttrDiffs(diff map[string]*ir.AttrDiff) {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		d := diff[key]
		switch d.Action {
		case ir.ActionCreate:
			fmt.Printf("%s      + %s = %v%s\n", colorGreen, key, formatValue(d.After), colorReset)
		case ir.ActionDelete:
			fmt.Printf("%s      - %s = %v%s\n", colorRed, key, formatValue(d.Before), colorReset)
		case ir.ActionUpdate:
			fmt.Printf("%s      ~ %s = %v -> %v%s\n", colorYellow, key, formatValue(d.Before), formatValue(d.After), colorReset)
		default:
			fmt.Printf("        %s = %v\n", key, formatValue(d.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	if ir.IsUnknown(v) {
		return "(known after apply)"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// renderOutputs prints output values in stable order.
func renderOutputs(outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	fmt.Println("\nOutputs:")
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %v\n", k, formatValue(outputs[k]))
	}
}

// applyProgress prints one line per apply event.
func applyProgress(ev engine.ApplyEvent) {
	switch ev.Status {
	case "started":
		fmt.Printf("%s: %s...\n", ev.Addr, ev.Action)
	case "completed":
		fmt.Printf("%s: %s complete after %s\n", ev.Addr, ev.Action, ev.Duration.Round(time.Millisecond))
	case "failed":
		fmt.Printf("%s%s: %s failed: %s%s\n", colorRed, ev.Addr, ev.Action, ev.Error, colorReset)
	case "skipped":
		fmt.Printf("%s%s: skipped (dependency failed)%s\n", colorYellow, ev.Addr, colorReset)
	}
}

// renderApplyResult prints the apply outcome.
func renderApplyResult(result *engine.ApplyResult, summary ir.Summary) {
	if len(result.Failed) > 0 {
		fmt.Printf("\n%sApply finished with %d failure(s):%s\n", colorRed, len(result.Failed), colorReset)
		for _, f := range result.Failed {
			fmt.Printf("  %s (%s): %s\n", f.Addr, f.Action, f.Err)
		}
		if len(result.Skipped) > 0 {
			fmt.Printf("Skipped: %d action(s) whose dependencies failed.\n", len(result.Skipped))
		}
		return
	}
	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
		summary.Create, summary.Update+summary.Replace, summary.Delete+summary.Replace)
}

// confirm asks for interactive approval.
func confirm(prompt string) bool {
	fmt.Printf("\n%s (y/n): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}

func loadDocument(args []string) (*config.Document, error) {
	dir, err := resolveConfigDir(args)
	if err != nil {
		return nil, err
	}
	return config.LoadDir(dir)
}
