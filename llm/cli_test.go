package llm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nevindra/shiftlog"
)

func TestParseCLIOutputPrefersResultField(t *testing.T) {
	got := parseCLIOutput(`{"result": "hello there", "text": "unused"}`)
	if got != "hello there" {
		t.Errorf("got %q, want %q", got, "hello there")
	}
}

func TestParseCLIOutputFallsBackToTextThenResponse(t *testing.T) {
	got := parseCLIOutput(`{"text": "fallback text"}`)
	if got != "fallback text" {
		t.Errorf("got %q, want %q", got, "fallback text")
	}
	got = parseCLIOutput(`{"response": "last resort"}`)
	if got != "last resort" {
		t.Errorf("got %q, want %q", got, "last resort")
	}
}

func TestParseCLIOutputStringifiesNonStringValue(t *testing.T) {
	got := parseCLIOutput(`{"result": {"nested": true}}`)
	if !strings.Contains(got, "nested") {
		t.Errorf("got %q, want JSON-stringified nested value", got)
	}
}

func TestParseCLIOutputFallsBackToRawStdoutOnInvalidJSON(t *testing.T) {
	got := parseCLIOutput("not json at all")
	if got != "not json at all" {
		t.Errorf("got %q, want raw stdout", got)
	}
}

func TestBuildEnvClearsAPIKeyAndSetsOAuthToken(t *testing.T) {
	c := newCLIBackend("/usr/bin/claude", "sk-ant-oat01-xyz")
	env := c.buildEnv()

	var sawClearedKey, sawToken bool
	for _, kv := range env {
		if kv == "ANTHROPIC_API_KEY=" {
			sawClearedKey = true
		}
		if kv == "CLAUDE_CODE_OAUTH_TOKEN=sk-ant-oat01-xyz" {
			sawToken = true
		}
	}
	if !sawClearedKey {
		t.Error("expected ANTHROPIC_API_KEY to be explicitly cleared")
	}
	if !sawToken {
		t.Error("expected CLAUDE_CODE_OAUTH_TOKEN to be set")
	}
}

func TestConcatMessagesJoinsWithDoubleNewline(t *testing.T) {
	got := concatMessages([]shiftlog.LLMMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
	})
	if got != "first\n\nsecond" {
		t.Errorf("got %q, want %q", got, "first\n\nsecond")
	}
}

func TestBoundedWriterTruncatesAtMax(t *testing.T) {
	var buf bytes.Buffer
	bw := &boundedWriter{buf: &buf, max: 5}
	n, err := bw.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len("hello world") {
		t.Errorf("Write should report the full length even when truncating internally, got %d", n)
	}
	if buf.Len() != 5 {
		t.Errorf("buf.Len() = %d, want 5 (truncated)", buf.Len())
	}
}
