package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/observability"
)

// errWorkflowFailed gives the process a non-zero exit status when a run does
// not succeed. The result itself has already been printed.
var errWorkflowFailed = errors.New("automation workflow did not succeed")

func newAutomateCmd() *cobra.Command {
	var (
		maxSteps int
		history  bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "automate <url> <task>",
		Short: "Open a page and let the inference service operate it until the task is done",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			target := normalizeURL(args[0])
			task := strings.Join(args[1:], " ")

			comps := newComponents(cfg, logger)
			defer comps.Shutdown()

			runner, err := comps.newRunner(ctx, history)
			if err != nil {
				return err
			}
			page, err := comps.Browser().OpenPage(ctx, target)
			if err != nil {
				return err
			}
			defer page.Close()

			logger.Info("Starting automation", zap.String("url", target), zap.String("task", task))
			result := runner.RunWorkflow(ctx, task, maxSteps, page)

			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printWorkflow(cmd.OutOrStdout(), result)
			}
			if !result.Success {
				return errWorkflowFailed
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&maxSteps, "max-steps", "n", 0, "Maximum inference calls (default automation.max_steps)")
	cmd.Flags().BoolVar(&history, "history", false, "Send earlier steps with each inference request")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the workflow result as JSON")
	return cmd
}

func normalizeURL(raw string) string {
	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "about:") {
		return raw
	}
	return "https://" + raw
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// printWorkflow renders one line per step and a summary.
func printWorkflow(w io.Writer, wf *schemas.WorkflowResult) {
	for i, step := range wf.Steps {
		status := "ok"
		if !step.Success {
			status = "failed"
		}
		desc := "-"
		if step.Action != nil {
			desc = string(step.Action.Type)
			if step.Action.Selector != "" {
				desc += " " + step.Action.Selector
			}
		}
		fmt.Fprintf(w, "%2d. %-40s %s", i+1, desc, status)
		switch {
		case step.Error != "":
			fmt.Fprintf(w, ": %s", step.Error)
		case step.Message != "":
			fmt.Fprintf(w, ": %s", step.Message)
		}
		fmt.Fprintln(w)
	}

	state := "incomplete"
	switch {
	case wf.IsComplete:
		state = "complete"
	case !wf.Success:
		state = "failed"
	}
	fmt.Fprintf(w, "Task %s after %d step(s).\n", state, wf.TotalSteps)
}
