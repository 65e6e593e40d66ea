package llm

import (
	"os/exec"
	"strings"
	"sync"

	"github.com/nevindra/shiftlog"
)

// unsafeShellChars mirrors spec §4.I's shell-safety check on cli_path: no
// dependency needed, a stdlib strings.ContainsAny guard is enough.
const unsafeShellChars = ";&|`$\\"

// Config carries the subset of internal/config.AnthropicConfig the
// selection algorithm needs, kept local to this package so it doesn't
// depend on internal/config.
type Config struct {
	APIKey     string
	OAuthToken string
	Backend    string // "sdk", "cli", or "" for auto
	CLIPath    string
}

// Select runs the backend-selection algorithm (§4.I) against cfg and
// returns the chosen shiftlog.LLMProvider.
func Select(cfg Config) (shiftlog.LLMProvider, error) {
	switch cfg.Backend {
	case "sdk":
		if !strings.HasPrefix(cfg.APIKey, "sk-ant-") {
			return nil, &shiftlog.ErrConfig{Field: "anthropic.api_key", Reason: "sdk backend requires an sk-ant- prefixed API key", Command: "shiftlog configure"}
		}
		return newSDKBackend(cfg.APIKey), nil
	case "cli":
		if !strings.HasPrefix(cfg.OAuthToken, "sk-ant-oat") {
			return nil, &shiftlog.ErrConfig{Field: "anthropic.oauth_token", Reason: "cli backend requires an sk-ant-oat prefixed OAuth token", Command: "shiftlog configure"}
		}
		binPath, err := resolveCLIPath(cfg.CLIPath)
		if err != nil {
			return nil, err
		}
		return newCLIBackend(binPath, cfg.OAuthToken), nil
	case "":
		return autoSelect(cfg)
	default:
		return nil, &shiftlog.ErrConfig{Field: "anthropic.backend", Reason: "must be \"sdk\", \"cli\", or empty for auto", Command: "shiftlog configure"}
	}
}

func autoSelect(cfg Config) (shiftlog.LLMProvider, error) {
	if cfg.OAuthToken != "" {
		if binPath, err := resolveCLIPath(cfg.CLIPath); err == nil {
			return newCLIBackend(binPath, cfg.OAuthToken), nil
		}
	}
	if cfg.APIKey != "" {
		return newSDKBackend(cfg.APIKey), nil
	}
	return nil, &shiftlog.ErrCredentials{Service: "anthropic", Reason: "no usable API key or OAuth token found; run `shiftlog configure`"}
}

// resolveCLIPath finds the CLI binary and rejects any explicit path that
// fails the shell-safety check.
func resolveCLIPath(configured string) (string, error) {
	if configured != "" {
		if strings.ContainsAny(configured, unsafeShellChars) {
			return "", &shiftlog.ErrConfig{Field: "anthropic.cli_path", Reason: "contains unsafe shell metacharacters", Command: "shiftlog configure"}
		}
		if _, err := exec.LookPath(configured); err != nil {
			return "", err
		}
		return configured, nil
	}
	path, err := exec.LookPath("claude")
	if err != nil {
		return "", err
	}
	return path, nil
}

var (
	singletonMu sync.Mutex
	singleton   shiftlog.LLMProvider
)

// Provider returns the process-global LLMProvider, constructing it from cfg
// on the first call. Subsequent calls ignore cfg and return the memoized
// instance — "first call's config wins", per the teacher's global-singleton
// convention. Call Reset between tests.
func Provider(cfg Config) (shiftlog.LLMProvider, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return singleton, nil
	}
	p, err := Select(cfg)
	if err != nil {
		return nil, err
	}
	singleton = p
	return singleton, nil
}

// Reset clears the memoized provider so the next Provider call reconstructs
// it. Exists for tests.
func Reset() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	singleton = nil
}
