// Command shiftlog generates activity digests from a Slack workspace: fetch,
// segment, extract references, consolidate into topic groups, and summarize
// via an LLM. See summarize, cache, and configure for the subcommands.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nevindra/shiftlog"
	"github.com/nevindra/shiftlog/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		return classifyExit(err)
	}
	return 0
}

// classifyExit maps an error to spec §7's exit codes: 0 success (never
// reached here), 1 user error (bad config, bad timespan), 2 operational
// error (IO/auth/RPC unrecoverable).
func classifyExit(err error) int {
	var cfgErr *shiftlog.ErrConfig
	var invalidErr *config.ErrInvalid
	var malformedErr *config.ErrMalformed
	if errors.As(err, &cfgErr) || errors.As(err, &invalidErr) || errors.As(err, &malformedErr) {
		fmt.Fprintln(os.Stderr, "shiftlog:", err)
		return 1
	}

	var credErr *shiftlog.ErrCredentials
	var rpcErr *shiftlog.ErrRPC
	var cacheErr *shiftlog.ErrCacheIO
	if errors.As(err, &credErr) || errors.As(err, &rpcErr) || errors.As(err, &cacheErr) {
		fmt.Fprintln(os.Stderr, "shiftlog:", describeOperationalError(err))
		return 2
	}

	// cobra usage errors (unknown flag, wrong arg count) are user errors too.
	fmt.Fprintln(os.Stderr, "shiftlog:", err)
	return 1
}

// describeOperationalError adds the "likely cause, corrective command"
// framing spec §5's user-visible-behavior section requires for fatal
// operational errors.
func describeOperationalError(err error) string {
	var credErr *shiftlog.ErrCredentials
	if errors.As(err, &credErr) {
		return fmt.Sprintf("%v (the stored credential was rejected; run `shiftlog configure --reset`)", err)
	}
	var rpcErr *shiftlog.ErrRPC
	if errors.As(err, &rpcErr) {
		return fmt.Sprintf("%v (the request could not complete after retries; check network connectivity and try again)", err)
	}
	var cacheErr *shiftlog.ErrCacheIO
	if errors.As(err, &cacheErr) {
		return fmt.Sprintf("%v (the cache database could not be read or written; check database.path's permissions)", err)
	}
	return err.Error()
}
