package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlasbridge/atlasbridge/internal/pipeline"
	"github.com/atlasbridge/atlasbridge/internal/registry"
)

var askUser string

var askCmd = &cobra.Command{
	Use:   "ask [text...]",
	Short: "Answer one command and exit",
	Example: `  atlasbridge ask get_jira_ticket PROJ-123
  atlasbridge ask "create a bug in PROJ: login fails on Safari"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := startApp()
		if err != nil {
			return err
		}
		defer a.close()
		reply := a.pipeline.Handle(cmd.Context(), pipeline.Command{
			Text: strings.Join(args, " "),
			User: askUser,
		})
		fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
		if !reply.Success {
			cmd.SilenceErrors = true
			return fmt.Errorf("command failed: %s", reply.Outcome)
		}
		return nil
	},
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Answer commands typed on stdin, one per line",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := startApp()
		if err != nil {
			return err
		}
		defer a.close()
		return repl(cmd.Context(), a.pipeline, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available tools",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprint(out, registry.Describe())
		fmt.Fprintln(out)
		for _, t := range registry.List() {
			fmt.Fprintf(out, "  %s\n", registry.Usage(t))
		}
	},
}

func init() {
	askCmd.Flags().StringVar(&askUser, "user", os.Getenv("USER"), "user recorded in the audit log")
	replCmd.Flags().StringVar(&askUser, "user", os.Getenv("USER"), "user recorded in the audit log")
}

// startApp builds the pipeline with logs on stderr so stdout carries only
// replies.
func startApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildApp(cfg, newLogger(os.Stderr, cfg.LogLevel))
}

type handler interface {
	Handle(ctx context.Context, cmd pipeline.Command) pipeline.Reply
}

func repl(ctx context.Context, h handler, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "exit", "quit":
			return nil
		}
		reply := h.Handle(ctx, pipeline.Command{Text: line, User: askUser, Channel: "repl"})
		fmt.Fprintf(out, "%s\n> ", reply.Text)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}
