// Package chat keeps per-room message logs fed by a realtime transport.
//
// Sending is not optimistic: a sent message shows up in the log only when
// the transport echoes it back as a message event. Logs survive disconnects
// and leaving a room, so a rejoin can render immediately.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"masterboxer.com/engagement-sync/metrics"
	"masterboxer.com/engagement-sync/models"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

type Cache struct {
	transport Transport
	author    models.Author

	mu        sync.Mutex
	state     State
	active    string
	listening map[string]bool
	logs      map[string][]models.ChatMessage
	// message ids and client ids already in each room's log
	seen map[string]map[string]bool
}

func NewCache(transport Transport, author models.Author) *Cache {
	return &Cache{
		transport: transport,
		author:    author,
		listening: map[string]bool{},
		logs:      map[string][]models.ChatMessage{},
		seen:      map[string]map[string]bool{},
	}
}

func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cache) CanSend() bool {
	return c.State() == Connected
}

func (c *Cache) ActiveRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Run consumes transport events until ctx is done or the event channel
// closes. Events are handled one at a time, in receipt order.
func (c *Cache) Run(ctx context.Context) {
	c.mu.Lock()
	if c.state == Disconnected {
		c.state = Connecting
	}
	c.mu.Unlock()

	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				c.setState(Disconnected)
				return
			}
			c.handle(ctx, event)
		}
	}
}

func (c *Cache) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *Cache) handle(ctx context.Context, event Event) {
	switch event.Name {
	case EventConnecting:
		c.setState(Connecting)

	case EventConnect:
		c.mu.Lock()
		c.state = Connected
		rooms := make([]string, 0, len(c.listening))
		for chatID := range c.listening {
			rooms = append(rooms, chatID)
		}
		c.mu.Unlock()
		glog.Infof("[Chat] connected, joining %d rooms", len(rooms))
		for _, chatID := range rooms {
			c.emit(ctx, EventJoinChat, chatID)
		}

	case EventDisconnect:
		c.setState(Disconnected)
		glog.Infof("[Chat] disconnected")

	case EventMessage:
		var message models.ChatMessage
		if err := json.Unmarshal(event.Data, &message); err != nil {
			glog.Warningf("[Chat] bad message event: %v", err)
			return
		}
		c.receive(message)

	case EventChatHistory:
		chatID, messages, err := decodeHistory(event.Data, c.ActiveRoom())
		if err != nil {
			glog.Warningf("[Chat] bad chat_history event: %v", err)
			return
		}
		c.mu.Lock()
		listening := c.listening[chatID]
		c.mu.Unlock()
		if !listening {
			glog.V(2).Infof("[Chat] history for unjoined room %s dropped", chatID)
			return
		}
		c.SetMessages(chatID, messages)

	default:
		glog.V(2).Infof("[Chat] ignoring event %s", event.Name)
	}
}

// receive appends a transport-delivered message unless its room is not
// listened to or the message is a replay of one already in the log.
func (c *Cache) receive(message models.ChatMessage) {
	c.mu.Lock()
	listening := c.listening[message.ChatID]
	seen := c.seen[message.ChatID]
	duplicate := seen[message.ID] || (message.ClientID != "" && seen[message.ClientID])
	c.mu.Unlock()

	if !listening || duplicate {
		glog.V(2).Infof("[Chat] dropped message %s for %s (listening=%t duplicate=%t)", message.ID, message.ChatID, listening, duplicate)
		metrics.ChatMessages.WithLabelValues(metrics.DirectionDropped).Inc()
		return
	}
	metrics.ChatMessages.WithLabelValues(metrics.DirectionReceived).Inc()
	c.AddMessage(message.ChatID, message)
}

func decodeHistory(data json.RawMessage, fallbackChatID string) (string, []models.ChatMessage, error) {
	var messages []models.ChatMessage
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(data, &messages); err != nil {
			return "", nil, err
		}
		chatID := fallbackChatID
		if len(messages) > 0 {
			chatID = messages[0].ChatID
		}
		return chatID, messages, nil
	}

	var envelope historyEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", nil, err
	}
	if envelope.ChatID == "" {
		envelope.ChatID = fallbackChatID
	}
	return envelope.ChatID, envelope.Messages, nil
}

// SetMessages replaces a room's log.
func (c *Cache) SetMessages(chatID string, messages []models.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[chatID] = append([]models.ChatMessage(nil), messages...)
	c.seen[chatID] = map[string]bool{}
	for _, m := range messages {
		c.markSeen(chatID, m)
	}
}

// AddMessage appends to a room's log. It neither deduplicates nor reorders.
func (c *Cache) AddMessage(chatID string, message models.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[chatID] = append(c.logs[chatID], message)
	c.markSeen(chatID, message)
}

func (c *Cache) markSeen(chatID string, m models.ChatMessage) {
	seen, ok := c.seen[chatID]
	if !ok {
		seen = map[string]bool{}
		c.seen[chatID] = seen
	}
	if m.ID != "" {
		seen[m.ID] = true
	}
	if m.ClientID != "" {
		seen[m.ClientID] = true
	}
}

func (c *Cache) Messages(chatID string) []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ChatMessage(nil), c.logs[chatID]...)
}

// EnterRoom makes chatID the active room and listens for its messages. The
// join is sent now when connected, otherwise on the next connect.
func (c *Cache) EnterRoom(ctx context.Context, chatID string) {
	c.mu.Lock()
	c.listening[chatID] = true
	c.active = chatID
	connected := c.state == Connected
	c.mu.Unlock()

	if connected {
		c.emit(ctx, EventJoinChat, chatID)
	}
}

// LeaveRoom stops listening to chatID. Its log is kept.
func (c *Cache) LeaveRoom(ctx context.Context, chatID string) {
	c.mu.Lock()
	delete(c.listening, chatID)
	if c.active == chatID {
		c.active = ""
	}
	connected := c.state == Connected
	c.mu.Unlock()

	if connected {
		c.emit(ctx, EventLeaveChat, chatID)
	}
}

// SendMessage publishes a message as the local user. It is a no-op unless
// connected and reports whether the transport accepted the message.
func (c *Cache) SendMessage(ctx context.Context, chatID, text string, attachments []models.Attachment) bool {
	if !c.CanSend() {
		glog.V(1).Infof("[Chat] send to %s skipped, not connected", chatID)
		return false
	}

	envelope := sendEnvelope{
		ChatID:      chatID,
		ClientID:    uuid.NewString(),
		Text:        text,
		Attachments: make([]attachmentPayload, 0, len(attachments)),
		Author: authorPayload{
			ID:          c.author.UserID,
			DisplayName: c.author.DisplayName,
			PhotoURL:    c.author.PhotoURL,
		},
	}
	for _, a := range attachments {
		envelope.Attachments = append(envelope.Attachments, attachmentPayload{Name: a.Name, URL: a.URL})
	}

	if !c.emit(ctx, EventSendMessage, envelope) {
		return false
	}
	metrics.ChatMessages.WithLabelValues(metrics.DirectionSent).Inc()
	return true
}

func (c *Cache) emit(ctx context.Context, name string, payload any) bool {
	if err := c.transport.Emit(ctx, name, payload); err != nil {
		glog.Errorf("[Chat] emit %s failed: %v", name, err)
		return false
	}
	return true
}
