package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TimChild/mcp-chat/internal/agent"
	"github.com/TimChild/mcp-chat/internal/buildinfo"
	"github.com/TimChild/mcp-chat/internal/llm"
	"github.com/TimChild/mcp-chat/internal/mcp"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		conversationID  string
		newConversation bool
		model           string
	)

	cmd := &cobra.Command{
		Use:   "ask [flags] <question>",
		Short: "Ask the agent a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if newConversation && conversationID != "" {
				return errors.New("--new and --conversation are mutually exclusive")
			}
			if newConversation {
				id, err := uuid.NewV7()
				if err != nil {
					return fmt.Errorf("generate conversation id: %w", err)
				}
				conversationID = id.String()
				fmt.Fprintf(a.stderr, "conversation: %s\n", conversationID)
			}
			return a.runAsk(cmd.Context(), conversationID, model, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation id to continue and save to")
	cmd.Flags().BoolVar(&newConversation, "new", false, "start a new conversation with a generated id")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model name (default: models.default)")
	return cmd
}

func (a *app) runAsk(ctx context.Context, conversationID, model, question string) error {
	manager, err := a.newManager()
	if err != nil {
		return err
	}
	history, kv, err := a.openHistory()
	if err != nil {
		return err
	}
	defer kv.Close()

	req := &agent.Request{Question: question, ConversationID: conversationID}
	if model != "" {
		req.Configurable = map[string]any{agent.ConfigurableModelName: model}
	}

	responses, err := a.newLoop(manager, history).Run(ctx, req)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	reportFailed(a.stderr, manager.Failed())

	if a.jsonOutput() {
		return writeJSON(a.stdout, map[string]any{
			"conversation_id": conversationID,
			"messages":        responses,
		})
	}
	fmt.Fprintln(a.stdout, finalAnswer(responses))
	return nil
}

// finalAnswer returns the content of the last assistant message.
func finalAnswer(responses []llm.Message) string {
	for i := len(responses) - 1; i >= 0; i-- {
		if responses[i].Role == llm.RoleAssistant && responses[i].Content != "" {
			return responses[i].Content
		}
	}
	return ""
}

func newToolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered by every reachable server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := a.newManager()
			if err != nil {
				return err
			}
			byServer, err := manager.GetToolsByServer(cmd.Context())
			if err != nil {
				return err
			}
			reportFailed(a.stderr, manager.Failed())

			if a.jsonOutput() {
				return writeJSON(a.stdout, byServer)
			}

			servers := make([]string, 0, len(byServer))
			for name := range byServer {
				servers = append(servers, name)
			}
			sort.Strings(servers)

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			for _, server := range servers {
				fmt.Fprintf(tw, "%s:\n", server)
				for _, t := range byServer[server] {
					fmt.Fprintf(tw, "  %s\t%s\n", t.Name, firstLine(t.Description))
				}
			}
			return tw.Flush()
		},
	}
}

func newCallCmd(a *app) *cobra.Command {
	var rawArgs string

	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Call one tool directly and print its output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs := map[string]any{}
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			manager, err := a.newManager()
			if err != nil {
				return err
			}
			out, err := manager.InvokeTool(cmd.Context(), args[0], args[1], toolArgs)
			if err != nil {
				return err
			}

			if s, ok := out.(string); ok && !a.jsonOutput() {
				fmt.Fprintln(a.stdout, s)
				return nil
			}
			return writeJSON(a.stdout, out)
		},
	}

	cmd.Flags().StringVar(&rawArgs, "args", "", `tool arguments as a JSON object, e.g. '{"a": 1}'`)
	return cmd
}

// serverReport is the JSON form of one row of the servers command.
type serverReport struct {
	Name      string         `json:"name"`
	Transport string         `json:"transport"`
	State     string         `json:"state"`
	Tools     int            `json:"tools"`
	Info      mcp.ServerInfo `json:"info"`
	Error     string         `json:"error,omitempty"`
}

func newServersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Connect to every configured server and report its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := a.newManager()
			if err != nil {
				return err
			}

			var statuses []mcp.ServerStatus
			err = manager.Do(cmd.Context(), func(context.Context) error {
				statuses = manager.Status()
				return nil
			})
			if err != nil {
				return err
			}

			reports := make([]serverReport, 0, len(statuses))
			for _, s := range statuses {
				r := serverReport{
					Name:      s.Name,
					Transport: string(s.Transport),
					State:     s.State.String(),
					Tools:     s.Tools,
					Info:      s.Info,
				}
				if s.Err != nil {
					r.Error = s.Err.Error()
				}
				reports = append(reports, r)
			}

			if a.jsonOutput() {
				return writeJSON(a.stdout, reports)
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTRANSPORT\tSTATE\tTOOLS\tERROR")
			for _, r := range reports {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.Name, r.Transport, r.State, r.Tools, r.Error)
			}
			return tw.Flush()
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var deleteRecord bool

	cmd := &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "List saved conversations or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			history, kv, err := a.openHistory()
			if err != nil {
				return err
			}
			defer kv.Close()

			if len(args) == 0 {
				if deleteRecord {
					return errors.New("--delete needs a conversation id")
				}
				entries, err := history.List(ctx)
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return writeJSON(a.stdout, entries)
				}
				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\n", e.Key, e.UpdatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			}

			id := args[0]
			if deleteRecord {
				return history.Delete(ctx, id)
			}

			messages, err := history.Load(ctx, id)
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				return fmt.Errorf("conversation %s not found", id)
			}
			if a.jsonOutput() {
				return writeJSON(a.stdout, messages)
			}
			printTranscript(a.stdout, messages)
			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteRecord, "delete", false, "delete the conversation instead of printing it")
	return cmd
}

func printTranscript(w io.Writer, messages []llm.Message) {
	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser:
			fmt.Fprintf(w, "human: %s\n", m.Content)
		case llm.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(w, "ai: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Function.Arguments)
				fmt.Fprintf(w, "ai: -> %s(%s)\n", tc.Function.Name, args)
			}
		case llm.RoleTool:
			label := "tool"
			if m.IsError {
				label = "tool error"
			}
			fmt.Fprintf(w, "%s [%s]: %s\n", label, m.Name, m.Content)
		default:
			fmt.Fprintf(w, "%s: %s\n", m.Role, m.Content)
		}
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runVersion(a.stdout, a.output)
		},
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	switch outputFmt {
	case "json":
		return writeJSON(w, info)
	case "text":
	default:
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// reportFailed warns about servers whose probe failed. Their tools were
// left out of the catalog.
func reportFailed(w io.Writer, failed []mcp.FailedServer) {
	for _, f := range failed {
		fmt.Fprintf(w, "warning: server %s unavailable: %v\n", f.Name, f.Err)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
