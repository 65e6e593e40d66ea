package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/nevindra/shiftlog"
)

const maxStderrCapture = 1 << 16

// cliBackend implements shiftlog.LLMProvider by shelling out to an
// OAuth-authenticated Claude Code style binary, grounded on the teacher's
// code/subprocess.go SubprocessRunner.Run: an isolated temp working
// directory, a pruned environment (cmd.Env, never ambient credentials), a
// size-bounded stderr capture, and cmd.Wait()'s
// timeout/*exec.ExitError/generic-error branching.
type cliBackend struct {
	binPath    string
	oauthToken string
}

func newCLIBackend(binPath, oauthToken string) *cliBackend {
	return &cliBackend{binPath: binPath, oauthToken: oauthToken}
}

func (c *cliBackend) Name() string { return "cli" }

func (c *cliBackend) CreateMessage(ctx context.Context, model string, maxTokens int, messages []shiftlog.LLMMessage) (shiftlog.LLMContent, error) {
	prompt := concatMessages(messages)

	workDir, err := os.MkdirTemp("", "shiftlog-llm-*")
	if err != nil {
		return shiftlog.LLMContent{}, fmt.Errorf("llm: create temp workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	cmd := exec.CommandContext(ctx, c.binPath,
		"-p", prompt,
		"--model", model,
		"--output-format", "json",
		"--no-session-persistence",
	)
	cmd.Dir = workDir
	cmd.Env = c.buildEnv()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &boundedWriter{buf: &stderr, max: maxStderrCapture}

	runErr := cmd.Run()

	if runErr != nil {
		if ctx.Err() != nil {
			return shiftlog.LLMContent{}, &shiftlog.ErrRPC{Op: "llm.cli", Status: shiftlog.RPCStatusTransient, Err: ctx.Err()}
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return shiftlog.LLMContent{}, fmt.Errorf("llm: cli exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return shiftlog.LLMContent{}, fmt.Errorf("llm: cli start: %w", runErr)
	}

	out := stdout.String()
	if strings.TrimSpace(out) == "" {
		return shiftlog.LLMContent{}, fmt.Errorf("llm: cli produced no output: %s", strings.TrimSpace(stderr.String()))
	}

	text := parseCLIOutput(out)
	return shiftlog.LLMContent{Text: text}, nil
}

// buildEnv constructs a minimal environment for the subprocess: the OAuth
// token is set, ANTHROPIC_API_KEY is explicitly cleared so it cannot
// override the OAuth flow, and PATH/HOME pass through so the binary's own
// runtime (node, etc.) resolves normally.
func (c *cliBackend) buildEnv() []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"CLAUDE_CODE_OAUTH_TOKEN=" + c.oauthToken,
		"ANTHROPIC_API_KEY=",
	}
}

func concatMessages(messages []shiftlog.LLMMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}

// parseCLIOutput returns the first of "result", "text", "response" from a
// JSON stdout payload, JSON-stringifying non-string values, and falls back
// to the raw stdout when it isn't valid JSON at all.
func parseCLIOutput(raw string) string {
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return strings.TrimSpace(raw)
	}
	for _, key := range []string{"result", "text", "response"} {
		v, ok := decoded[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		return string(v)
	}
	return strings.TrimSpace(raw)
}

// boundedWriter caps how much of a stream gets captured, matching the
// teacher's stderrWriter.
type boundedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	if w.buf.Len() < w.max {
		remaining := w.max - w.buf.Len()
		if len(p) > remaining {
			p = p[:remaining]
		}
		w.buf.Write(p)
	}
	return len(p), nil
}

var _ shiftlog.LLMProvider = (*cliBackend)(nil)
