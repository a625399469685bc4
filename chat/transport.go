package chat

import (
	"context"
	"encoding/json"

	"masterboxer.com/engagement-sync/models"
)

// Transport event names.
const (
	EventConnecting  = "connecting"
	EventConnect     = "connect"
	EventDisconnect  = "disconnect"
	EventMessage     = "message"
	EventChatHistory = "chat_history"

	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
)

type Event struct {
	Name string
	Data json.RawMessage
}

// Transport is a bidirectional event channel for one user. Reconnecting is
// the transport's business; the cache only sees connect and disconnect.
type Transport interface {
	Events() <-chan Event
	Emit(ctx context.Context, name string, payload any) error
}

// sendEnvelope is the payload of send_message.
type sendEnvelope struct {
	ChatID      string              `json:"chatId"`
	ClientID    string              `json:"clientId"`
	Text        string              `json:"text"`
	Attachments []attachmentPayload `json:"attachments"`
	Author      authorPayload       `json:"author"`
}

type attachmentPayload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type authorPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

// historyEnvelope is the object form of chat_history. A bare array of
// messages is accepted as well.
type historyEnvelope struct {
	ChatID   string               `json:"chatId"`
	Messages []models.ChatMessage `json:"messages"`
}
