// Package slackapi implements shiftlog.ChatClient against the real Slack
// Web API over plain net/http. It is a thin transport: retry, backoff, and
// rate-limit classification live in package chatclient's RPCExecutor, the
// same separation the teacher keeps between its HTTP transport (code/http.go)
// and its retry/rate-limit wrappers (retry.go, ratelimit.go). Every method
// here makes exactly one HTTP round trip and classifies failure into
// *shiftlog.ErrRPC for the caller's RPCExecutor to act on.
package slackapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nevindra/shiftlog"
)

// baseURL is a var, not a const, so tests can point it at an httptest.Server.
var baseURL = "https://slack.com/api/"

// Client implements shiftlog.ChatClient against the Slack Web API using a
// single user token (spec §6's slack.user_token, "xoxp-...").
type Client struct {
	token      string
	httpClient *http.Client
}

// New builds a Client authenticating every call with token.
func New(token string) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ shiftlog.ChatClient = (*Client)(nil)

// envelope is the common {ok, error} wrapper every Slack Web API response
// shares, decoded first to detect API-level failure before decoding the
// method-specific payload.
type envelope struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// call performs one GET against method with params, decoding the raw
// response body into out (which must embed or mirror envelope's shape via
// its own struct, since Slack responses are flat, not nested). Returns the
// response_metadata cursor alongside any error, classified as *shiftlog.ErrRPC.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	u := baseURL + method + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusFatal, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req, method, out)
}

// do executes req and decodes its body into both env (always) and out (when
// non-nil), classifying any transport, HTTP, or Slack-level failure into
// *shiftlog.ErrRPC.
func (c *Client) do(req *http.Request, method string, out any) error {
	var env envelope
	return c.doEnvelope(req, method, out, &env)
}

func (c *Client) doEnvelope(req *http.Request, method string, out any, env *envelope) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusTransient, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(method, resp, body)
	}

	if err := json.Unmarshal(body, env); err != nil {
		return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusFatal, Err: fmt.Errorf("slack: decode envelope: %w", err)}
	}
	if !env.OK {
		if env.Error == "ratelimited" {
			return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusRateLimited, RetryAfter: 30, Err: fmt.Errorf("slack: %s", env.Error)}
		}
		if env.Error == "invalid_auth" || env.Error == "token_revoked" || env.Error == "account_inactive" {
			return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusFatal, Err: &shiftlog.ErrCredentials{Service: "slack", Reason: env.Error}}
		}
		return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusFatal, Err: fmt.Errorf("slack: %s", env.Error)}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusFatal, Err: fmt.Errorf("slack: decode payload: %w", err)}
		}
	}
	return nil
}

// classifyStatus maps a non-200 HTTP response to *shiftlog.ErrRPC.
func classifyStatus(method string, resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 1.0
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = float64(secs)
			}
		}
		return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusRateLimited, HTTPStatus: resp.StatusCode, RetryAfter: retryAfter, Err: fmt.Errorf("slack: rate limited")}
	}
	if resp.StatusCode >= 500 {
		return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusTransient, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("slack: server error %d", resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusFatal, HTTPStatus: resp.StatusCode, Err: &shiftlog.ErrCredentials{Service: "slack", Reason: "token rejected"}}
	}
	return &shiftlog.ErrRPC{Op: method, Status: shiftlog.RPCStatusFatal, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("slack: unexpected status %d: %s", resp.StatusCode, body)}
}

type authTestResponse struct {
	UserID string `json:"user_id"`
}

// AuthedUserID implements shiftlog.ChatClient via auth.test.
func (c *Client) AuthedUserID(ctx context.Context) (string, error) {
	var resp authTestResponse
	if err := c.call(ctx, "auth.test", nil, &resp); err != nil {
		return "", err
	}
	return resp.UserID, nil
}

type permalinkResponse struct {
	Permalink string `json:"permalink"`
}

// Permalink implements shiftlog.ChatClient via chat.getPermalink.
func (c *Client) Permalink(ctx context.Context, channelID, ts string) (string, error) {
	params := url.Values{"channel": {channelID}, "message_ts": {ts}}
	var resp permalinkResponse
	if err := c.call(ctx, "chat.getPermalink", params, &resp); err != nil {
		return "", err
	}
	return resp.Permalink, nil
}

type wireUser struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
	IsBot   bool   `json:"is_bot"`
	Profile struct {
		DisplayName string `json:"display_name"`
		RealName    string `json:"real_name"`
	} `json:"profile"`
	Name string `json:"name"`
}

func (u wireUser) displayName() string {
	if u.Profile.DisplayName != "" {
		return u.Profile.DisplayName
	}
	if u.Profile.RealName != "" {
		return u.Profile.RealName
	}
	return u.Name
}

type userInfoResponse struct {
	User wireUser `json:"user"`
}

// UserDisplayName implements shiftlog.ChatClient via users.info.
func (c *Client) UserDisplayName(ctx context.Context, userID string) (string, error) {
	var resp userInfoResponse
	if err := c.call(ctx, "users.info", url.Values{"user": {userID}}, &resp); err != nil {
		return "", err
	}
	name := resp.User.displayName()
	if name == "" {
		return userID, nil
	}
	return name, nil
}

type usersListResponse struct {
	Members []wireUser `json:"members"`
}

// ListUserDisplayNames implements shiftlog.ChatClient via paginated
// users.list, the aggregator's bulk display-name seed (spec §4.J.3).
func (c *Client) ListUserDisplayNames(ctx context.Context) (map[string]string, error) {
	names := make(map[string]string)
	cursor := ""
	for {
		params := url.Values{"limit": {"200"}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		req, err := newGet(ctx, baseURL+"users.list?"+params.Encode(), c.token)
		if err != nil {
			return nil, err
		}

		var resp usersListResponse
		var env envelope
		if err := c.doEnvelope(req, "users.list", &resp, &env); err != nil {
			return nil, err
		}
		for _, u := range resp.Members {
			if u.Deleted {
				continue
			}
			if name := u.displayName(); name != "" {
				names[u.ID] = name
			}
		}
		cursor = env.ResponseMetadata.NextCursor
		if cursor == "" {
			break
		}
	}
	return names, nil
}

