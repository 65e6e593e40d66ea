package shiftlog

import "testing"

func TestMessageIsBotMessage(t *testing.T) {
	bySubtype := Message{Subtype: SubtypeBotMessage, Text: "hi"}
	if !bySubtype.IsBotMessage() {
		t.Error("expected bot_message subtype to be a bot message")
	}

	byAbsentUser := Message{Text: "hi"}
	if !byAbsentUser.IsBotMessage() {
		t.Error("expected absent user + present text to be a bot message")
	}

	human := Message{User: "U1", Text: "hi"}
	if human.IsBotMessage() {
		t.Error("message with user should not be a bot message")
	}
}

func TestConversationIsBotConversation(t *testing.T) {
	conv := Conversation{Messages: []Message{
		{Subtype: SubtypeBotMessage, Text: "a"},
		{Subtype: SubtypeBotMessage, Text: "b"},
	}}
	if !conv.IsBotConversation() {
		t.Error("all-bot conversation should be a bot conversation")
	}

	conv.Messages = append(conv.Messages, Message{User: "U1", Text: "c"})
	if conv.IsBotConversation() {
		t.Error("conversation with a human message should not be a bot conversation")
	}

	empty := Conversation{}
	if empty.IsBotConversation() {
		t.Error("empty conversation should not be a bot conversation")
	}
}
