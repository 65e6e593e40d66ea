package slackapi

import (
	"context"
	"net/url"
	"strconv"

	"github.com/nevindra/shiftlog"
)

// wireMessage mirrors the subset of Slack's message JSON shape shiftlog.Message
// needs. Attachment/unfurl data is resolved separately by package summarize's
// enricher, not parsed from the raw API payload here.
type wireMessage struct {
	Ts       string `json:"ts"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Text     string `json:"text"`
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	ThreadTs string `json:"thread_ts"`
}

func (w wireMessage) toMessage(channelID string) shiftlog.Message {
	subtype := w.Subtype
	if subtype == "" && w.BotID != "" {
		subtype = shiftlog.SubtypeBotMessage
	}
	return shiftlog.Message{
		Ts:             w.Ts,
		ChannelID:      channelID,
		User:           w.User,
		Text:           w.Text,
		Type:           w.Type,
		Subtype:        subtype,
		ThreadParentTs: w.ThreadTs,
	}
}

type searchMatch struct {
	Ts      string `json:"ts"`
	User    string `json:"user"`
	Text    string `json:"text"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
}

type searchResponse struct {
	Messages struct {
		Matches []searchMatch `json:"matches"`
		Paging  struct {
			Page  int `json:"page"`
			Pages int `json:"pages"`
		} `json:"paging"`
	} `json:"messages"`
}

// Search implements shiftlog.ChatClient via search.messages, paginating
// through every result page and filtering to r (Slack's search.messages has
// no native time-window filter, so filtering happens client-side).
func (c *Client) Search(ctx context.Context, query string, r shiftlog.TimeRange) ([]shiftlog.SearchResult, error) {
	var out []shiftlog.SearchResult
	page := 1
	for {
		params := url.Values{
			"query": {query},
			"count": {"100"},
			"page":  {strconv.Itoa(page)},
			"sort":  {"timestamp"},
		}
		var resp searchResponse
		if err := c.call(ctx, "search.messages", params, &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.Messages.Matches {
			msg := shiftlog.Message{Ts: m.Ts, ChannelID: m.Channel.ID, User: m.User, Text: m.Text}
			if r.Contains(msg.TsFloat()) {
				out = append(out, shiftlog.SearchResult{Message: msg})
			}
		}
		if resp.Messages.Paging.Pages <= page {
			break
		}
		page++
	}
	return out, nil
}

type wireChannel struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsIM   bool   `json:"is_im"`
	IsMPIM bool   `json:"is_mpim"`
	IsPriv bool   `json:"is_private"`
	User   string `json:"user"` // set for IM channels: the peer user id
}

func (w wireChannel) kind() shiftlog.ChannelKind {
	switch {
	case w.IsIM:
		return shiftlog.ChannelDM
	case w.IsMPIM:
		return shiftlog.ChannelGroupDM
	case w.IsPriv:
		return shiftlog.ChannelPrivate
	default:
		return shiftlog.ChannelPublic
	}
}

func (w wireChannel) toChannel() shiftlog.Channel {
	return shiftlog.Channel{ID: w.ID, Name: w.Name, Kind: w.kind(), PeerUser: w.User}
}

type conversationsListResponse struct {
	Channels []wireChannel `json:"channels"`
}

// UserChannels implements shiftlog.ChatClient via paginated
// users.conversations (the active-channel-discovery fallback, spec §2/§4.C).
func (c *Client) UserChannels(ctx context.Context, userID string) ([]shiftlog.Channel, error) {
	var out []shiftlog.Channel
	cursor := ""
	for {
		params := url.Values{
			"user":  {userID},
			"types": {"public_channel,private_channel,mpim,im"},
			"limit": {"200"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		u := baseURL + "users.conversations?" + params.Encode()
		req, err := newGet(ctx, u, c.token)
		if err != nil {
			return nil, err
		}
		var resp conversationsListResponse
		var env envelope
		if err := c.doEnvelope(req, "users.conversations", &resp, &env); err != nil {
			return nil, err
		}
		for _, ch := range resp.Channels {
			out = append(out, ch.toChannel())
		}
		cursor = env.ResponseMetadata.NextCursor
		if cursor == "" {
			break
		}
	}
	return out, nil
}

type conversationsInfoResponse struct {
	Channel wireChannel `json:"channel"`
}

// ChannelInfo implements shiftlog.ChatClient via conversations.info.
func (c *Client) ChannelInfo(ctx context.Context, channelID string) (shiftlog.Channel, error) {
	var resp conversationsInfoResponse
	if err := c.call(ctx, "conversations.info", url.Values{"channel": {channelID}}, &resp); err != nil {
		return shiftlog.Channel{}, err
	}
	return resp.Channel.toChannel(), nil
}

type historyResponse struct {
	Messages []wireMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// History implements shiftlog.ChatClient via conversations.history, paging
// one cursor per call the way fetch.Fetcher drives it.
func (c *Client) History(ctx context.Context, channelID string, r shiftlog.TimeRange, cursor string) (shiftlog.HistoryPage, error) {
	params := url.Values{
		"channel":   {channelID},
		"oldest":    {formatTs(r.Start)},
		"latest":    {formatTs(r.End)},
		"inclusive": {"true"},
		"limit":     {"200"},
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	var resp historyResponse
	if err := c.call(ctx, "conversations.history", params, &resp); err != nil {
		return shiftlog.HistoryPage{}, err
	}
	msgs := make([]shiftlog.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msgs = append(msgs, m.toMessage(channelID))
	}
	return shiftlog.HistoryPage{Messages: msgs, HasMore: resp.HasMore, NextCursor: resp.ResponseMetadata.NextCursor}, nil
}

type repliesResponse struct {
	Messages []wireMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// Replies implements shiftlog.ChatClient via paginated conversations.replies,
// always live (never cached) per spec §4.C phase 3.
func (c *Client) Replies(ctx context.Context, channelID, threadParentTs string) ([]shiftlog.Message, error) {
	var out []shiftlog.Message
	cursor := ""
	for {
		params := url.Values{"channel": {channelID}, "ts": {threadParentTs}, "limit": {"200"}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp repliesResponse
		if err := c.call(ctx, "conversations.replies", params, &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.Messages {
			out = append(out, m.toMessage(channelID))
		}
		if !resp.HasMore || resp.ResponseMetadata.NextCursor == "" {
			break
		}
		cursor = resp.ResponseMetadata.NextCursor
	}
	return out, nil
}

// GetMessage implements shiftlog.ChatClient by fetching a single message via
// conversations.replies with ts as its own thread root, Slack's documented
// way to fetch one message by (channel, ts) without a dedicated endpoint.
func (c *Client) GetMessage(ctx context.Context, channelID, ts string) (shiftlog.Message, error) {
	params := url.Values{"channel": {channelID}, "ts": {ts}, "limit": {"1"}, "inclusive": {"true"}}
	var resp repliesResponse
	if err := c.call(ctx, "conversations.replies", params, &resp); err != nil {
		return shiftlog.Message{}, err
	}
	for _, m := range resp.Messages {
		if m.Ts == ts {
			return m.toMessage(channelID), nil
		}
	}
	return shiftlog.Message{}, &shiftlog.ErrRPC{Op: "conversations.replies", Status: shiftlog.RPCStatusFatal, Err: errNotFound(channelID, ts)}
}

type reactionsResponse struct {
	Items []struct {
		Type    string       `json:"type"`
		Channel string       `json:"channel"`
		Message struct {
			Ts       string `json:"ts"`
			Reactions []struct {
				Name  string   `json:"name"`
				Users []string `json:"users"`
			} `json:"reactions"`
		} `json:"message"`
	} `json:"items"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// Reactions implements shiftlog.ChatClient via one page of reactions.list,
// flattening each item's reaction list to the (channel, ts, emoji) hits that
// list userID as a reactor.
func (c *Client) Reactions(ctx context.Context, userID string, cursor string) ([]shiftlog.Reaction, bool, string, error) {
	params := url.Values{"user": {userID}, "limit": {"200"}, "full": {"true"}}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	var resp reactionsResponse
	if err := c.call(ctx, "reactions.list", params, &resp); err != nil {
		return nil, false, "", err
	}
	var out []shiftlog.Reaction
	for _, item := range resp.Items {
		if item.Type != "message" {
			continue
		}
		for _, r := range item.Message.Reactions {
			for _, u := range r.Users {
				if u == userID {
					out = append(out, shiftlog.Reaction{ChannelID: item.Channel, Ts: item.Message.Ts, Emoji: r.Name})
				}
			}
		}
	}
	next := resp.ResponseMetadata.NextCursor
	return out, next != "", next, nil
}
