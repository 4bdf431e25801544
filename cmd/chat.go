package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/automation"
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
	"github.com/xkilldash9x/pagepilot/internal/chat"
	"github.com/xkilldash9x/pagepilot/internal/observability"
)

// automationActionName is the client action that hands a task to the
// automation loop on the attached page.
const automationActionName = "runAutomation"

// messageProcessor is the part of the orchestrator the chat loop drives.
type messageProcessor interface {
	ProcessMessage(ctx context.Context, s *chat.Session, text string) *chat.Reply
}

func newChatCmd() *cobra.Command {
	var (
		pageURL        string
		conversationID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent backend; with --url the agent can also operate a page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			comps := newComponents(cfg, logger)
			defer comps.Shutdown()

			backend, err := chat.NewHTTPBackend(cfg.Backend(), comps.httpClient, logger)
			if err != nil {
				return err
			}
			dispatcher := chat.NewDispatcher(comps.httpClient, logger)

			if pageURL != "" {
				runner, err := comps.newRunner(ctx, false)
				if err != nil {
					return err
				}
				page, err := comps.Browser().OpenPage(ctx, normalizeURL(pageURL))
				if err != nil {
					return err
				}
				defer page.Close()
				dispatcher.Register(automationActionName, automationAction(runner, page))
				logger.Info("Page attached to chat", zap.String("url", pageURL))
			}

			orch := chat.NewOrchestrator(backend, dispatcher, cfg.Chat(), backend.AgentID(), logger)
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				if err := orch.Close(closeCtx); err != nil {
					logger.Warn("Pending message persistence did not finish", zap.Error(err))
				}
			}()

			session := chat.NewSession(cfg.Chat().UserConfig)
			if conversationID != "" {
				session, err = orch.Resume(ctx, conversationID, cfg.Chat().UserConfig)
				if err != nil {
					return fmt.Errorf("failed to resume conversation %s: %w", conversationID, err)
				}
				for _, msg := range session.Transcript() {
					printMessage(cmd.OutOrStdout(), msg)
				}
			}

			return chatLoop(ctx, orch, session, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&pageURL, "url", "", "Open this page and register the "+automationActionName+" client action")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Resume a stored conversation by id")
	return cmd
}

// chatLoop reads one user message per line until EOF or /quit.
func chatLoop(ctx context.Context, proc messageProcessor, session *chat.Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		reply := proc.ProcessMessage(ctx, session, line)
		for _, msg := range reply.Visible() {
			if msg.Role != schemas.RoleUser {
				printMessage(out, msg)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func printMessage(w io.Writer, msg schemas.Message) {
	var parts []string
	for _, p := range msg.Parts {
		switch p.Type {
		case schemas.PartText:
			parts = append(parts, p.Text)
		case schemas.PartHTML:
			parts = append(parts, p.Content)
		}
	}
	fmt.Fprintf(w, "%s: %s\n", msg.Role, strings.Join(parts, "\n"))
}

// automationSummary is what the backend sees as the result of runAutomation.
type automationSummary struct {
	RunID      string `json:"runId"`
	Success    bool   `json:"success"`
	IsComplete bool   `json:"isComplete"`
	TotalSteps int    `json:"totalSteps"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// automationAction runs a workflow for args.task (and optional
// args.maxSteps) against doc. Runs on the same doc never overlap, even when
// one completion requests several.
func automationAction(runner *automation.Runner, doc dom.Document) chat.ClientFunc {
	pageLock := make(chan struct{}, 1)
	return func(ctx context.Context, _ map[string]any, args map[string]any) (any, error) {
		task, _ := args["task"].(string)
		if strings.TrimSpace(task) == "" {
			return nil, errors.New(automationActionName + " requires a task")
		}
		maxSteps := 0
		if n, ok := args["maxSteps"].(float64); ok {
			maxSteps = int(n)
		}

		select {
		case pageLock <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-pageLock }()

		wf := runner.RunWorkflow(ctx, task, maxSteps, doc)
		summary := automationSummary{
			RunID:      wf.RunID,
			Success:    wf.Success,
			IsComplete: wf.IsComplete,
			TotalSteps: wf.TotalSteps,
		}
		if n := len(wf.Steps); n > 0 {
			last := wf.Steps[n-1]
			summary.Message = last.Message
			summary.Error = last.Error
		}
		return summary, nil
	}
}
