package summarize

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nevindra/shiftlog"
)

// fakeClient implements shiftlog.ChatClient, exercising only the methods
// the summarize package calls (UserDisplayName, Permalink, GetMessage);
// everything else is an unused no-op.
type fakeClient struct {
	mu sync.Mutex

	names       map[string]string
	nameErr     map[string]bool
	nameCalls   int32
	permalinks  map[string]string
	permalinkOK map[string]bool
	messages    map[string]shiftlog.Message // "channel|ts"
	getCalls    int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		names:       map[string]string{},
		nameErr:     map[string]bool{},
		permalinks:  map[string]string{},
		permalinkOK: map[string]bool{},
		messages:    map[string]shiftlog.Message{},
	}
}

func (c *fakeClient) AuthedUserID(ctx context.Context) (string, error) { return "", nil }
func (c *fakeClient) Search(ctx context.Context, query string, r shiftlog.TimeRange) ([]shiftlog.SearchResult, error) {
	return nil, nil
}
func (c *fakeClient) UserChannels(ctx context.Context, userID string) ([]shiftlog.Channel, error) {
	return nil, nil
}
func (c *fakeClient) ChannelInfo(ctx context.Context, channelID string) (shiftlog.Channel, error) {
	return shiftlog.Channel{}, nil
}
func (c *fakeClient) History(ctx context.Context, channelID string, r shiftlog.TimeRange, cursor string) (shiftlog.HistoryPage, error) {
	return shiftlog.HistoryPage{}, nil
}
func (c *fakeClient) Replies(ctx context.Context, channelID, threadParentTs string) ([]shiftlog.Message, error) {
	return nil, nil
}
func (c *fakeClient) Reactions(ctx context.Context, userID string, cursor string) ([]shiftlog.Reaction, bool, string, error) {
	return nil, false, "", nil
}
func (c *fakeClient) ListUserDisplayNames(ctx context.Context) (map[string]string, error) {
	return nil, nil
}

func (c *fakeClient) Permalink(ctx context.Context, channelID, ts string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.permalinkOK[channelID+"|"+ts] {
		return c.permalinks[channelID+"|"+ts], nil
	}
	return "", fmt.Errorf("no permalink for %s/%s", channelID, ts)
}

func (c *fakeClient) UserDisplayName(ctx context.Context, userID string) (string, error) {
	atomic.AddInt32(&c.nameCalls, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nameErr[userID] {
		return "", fmt.Errorf("lookup failed for %s", userID)
	}
	return c.names[userID], nil
}

func (c *fakeClient) GetMessage(ctx context.Context, channelID, ts string) (shiftlog.Message, error) {
	atomic.AddInt32(&c.getCalls, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[channelID+"|"+ts]
	if !ok {
		return shiftlog.Message{}, fmt.Errorf("no message at %s/%s", channelID, ts)
	}
	return m, nil
}

var _ shiftlog.ChatClient = (*fakeClient)(nil)

// fakeLLM implements shiftlog.LLMProvider with a scripted response or error.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string // consumed in order; last one repeats
	err       error
	calls     int
}

func (f *fakeLLM) CreateMessage(ctx context.Context, model string, maxTokens int, messages []shiftlog.LLMMessage) (shiftlog.LLMContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return shiftlog.LLMContent{}, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return shiftlog.LLMContent{Text: f.responses[idx]}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ shiftlog.LLMProvider = (*fakeLLM)(nil)

func msg(ts, channel, user, text string) shiftlog.Message {
	return shiftlog.Message{Ts: ts, ChannelID: channel, User: user, Text: text}
}

func conv(id, channelID, channelName string, msgs ...shiftlog.Message) shiftlog.Conversation {
	c := shiftlog.Conversation{ID: id, ChannelID: channelID, ChannelName: channelName, Messages: msgs}
	c.Recompute()
	c.UserMessageCount = c.MessageCount
	return c
}
