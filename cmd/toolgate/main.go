// Package main is the entry point for the toolgate CLI.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flemzord/toolgate/internal/engine"
	"github.com/flemzord/toolgate/internal/gateway"
	"github.com/flemzord/toolgate/internal/prompt"
	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command that builds the application.
type globalFlags struct {
	config    string
	logFormat string
	logLevel  string
}

func (g *globalFlags) params() (app.Params, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return app.Params{}, fmt.Errorf("invalid --log-level %q: %w", g.logLevel, err)
	}
	switch g.logFormat {
	case app.LogFormatText, app.LogFormatJSON:
	default:
		return app.Params{}, fmt.Errorf("invalid --log-format %q (want text or json)", g.logFormat)
	}
	return app.Params{
		ConfigPath: g.config,
		Version:    version,
		Commit:     commit,
		Date:       date,
		LogLevel:   level,
		LogFormat:  g.logFormat,
	}, nil
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "toolgate",
		Short:         "Permission-gated tool execution for AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", app.LogFormatText, "Log format: text or json")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	root.AddCommand(
		versionCmd(),
		toolsCmd(),
		runCmd(g),
		configCmd(),
		serveCmd(g),
		mcpCmd(g),
		serviceCmd(g),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "toolgate %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func toolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			descs, err := app.ListTools(nil)
			if err != nil {
				return err
			}
			return printTools(cmd.OutOrStdout(), descs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print descriptors as JSON")
	return cmd
}

func printTools(w io.Writer, descs []tool.Descriptor, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCAPABILITIES\tDESCRIPTION")
	for _, d := range descs {
		caps := make([]string, len(d.Capabilities))
		for i, c := range d.Capabilities {
			caps[i] = string(c)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, joinOrDash(caps), d.Description)
	}
	return tw.Flush()
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ",")
}

func runCmd(g *globalFlags) *cobra.Command {
	var yolo bool
	cmd := &cobra.Command{
		Use:   "run <tool> [json-args]",
		Short: "Execute one tool call through the permission pipeline",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.params()
			if err != nil {
				return err
			}
			raw := json.RawMessage(`{}`)
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return errors.New("arguments must be a JSON object")
				}
				raw = json.RawMessage(args[1])
			}

			o, err := app.RunTool(cmd.Context(), p, app.CallParams{
				ToolName:  args[0],
				Arguments: raw,
				Yolo:      yolo,
				Prompter:  prompt.NewTerminal(),
			})
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), o)
		},
	}
	cmd.Flags().BoolVar(&yolo, "yolo", false, "Approve prompts automatically (hard denials still apply)")
	return cmd
}

// printOutcome writes the tool output and turns an unsuccessful outcome
// into an error so the process exits non-zero.
func printOutcome(w io.Writer, o engine.Outcome) error {
	if o.Response.Content != "" {
		fmt.Fprintln(w, o.Response.Content)
	}
	if o.State == engine.StateSucceeded && o.Response.Success {
		return nil
	}
	if o.Err != nil {
		return fmt.Errorf("%s: %w", o.State, o.Err)
	}
	return fmt.Errorf("call %s", o.State)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := app.LoadConfig(args[0])
			if err != nil {
				return err
			}
			descs, err := app.ListTools(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%s)\n", path)
			fmt.Fprintf(out, "  workspace: %s\n", cfg.Workspace)
			fmt.Fprintf(out, "  tools:     %d\n", len(descs))
			fmt.Fprintf(out, "  gateway:   %s\n", bindOrDefault(cfg.Gateway.Bind))
			return nil
		},
	})
	return cmd
}

func bindOrDefault(bind string) string {
	if bind == "" {
		return gateway.DefaultBind + " (default)"
	}
	return bind
}

func serveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.params()
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context(), p)
		},
	}
}

func mcpCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tools over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.params()
			if err != nil {
				return err
			}
			return app.ServeMCP(cmd.Context(), p, os.Stdin, os.Stdout)
		},
	}
}
