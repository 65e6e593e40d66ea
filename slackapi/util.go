package slackapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/nevindra/shiftlog"
)

// newGet builds a GET request authenticated with token, classifying a
// malformed URL (which should never happen given the callers here) the same
// way every other transport failure is classified.
func newGet(ctx context.Context, url, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &shiftlog.ErrRPC{Op: "http.NewRequest", Status: shiftlog.RPCStatusFatal, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// formatTs renders a shiftlog timestamp (decimal seconds) as Slack's
// "seconds.microseconds" oldest/latest query parameter form.
func formatTs(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func errNotFound(channelID, ts string) error {
	return fmt.Errorf("slack: message %s/%s not found", channelID, ts)
}
