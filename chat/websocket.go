package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("chat: transport not connected")

type WebsocketSettings struct {
	HandshakeTimeout time.Duration
	ReconnectTimeout time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	EventBufferSize  int
}

func DefaultWebsocketSettings() *WebsocketSettings {
	return &WebsocketSettings{
		HandshakeTimeout: 5 * time.Second,
		ReconnectTimeout: 5 * time.Second,
		PingInterval:     20 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
		EventBufferSize:  32,
	}
}

// frame is the JSON shape of every websocket message in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	frame  frame
	result chan error
}

// WebsocketTransport keeps one websocket to the chat server open for a
// user, redialing after ReconnectTimeout whenever the connection drops.
type WebsocketTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	dialer   *websocket.Dialer
	settings *WebsocketSettings

	events chan Event
	send   chan *outbound
}

func NewWebsocketTransport(ctx context.Context, chatURL, userID string, settings *WebsocketSettings) (*WebsocketTransport, error) {
	u, err := url.Parse(chatURL)
	if err != nil {
		return nil, err
	}
	query := u.Query()
	query.Set("userId", userID)
	u.RawQuery = query.Encode()

	if settings == nil {
		settings = DefaultWebsocketSettings()
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	t := &WebsocketTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      u.String(),
		dialer:   &websocket.Dialer{HandshakeTimeout: settings.HandshakeTimeout},
		settings: settings,
		events:   make(chan Event, settings.EventBufferSize),
		send:     make(chan *outbound),
	}
	go t.run()
	return t, nil
}

func (t *WebsocketTransport) Events() <-chan Event {
	return t.events
}

// Emit writes one event. It fails with ErrNotConnected when no connection
// picks the frame up within WriteTimeout.
func (t *WebsocketTransport) Emit(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	out := &outbound{frame: frame{Event: name, Data: data}, result: make(chan error, 1)}

	select {
	case t.send <- out:
	case <-time.After(t.settings.WriteTimeout):
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return t.ctx.Err()
	}

	select {
	case err := <-out.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return t.ctx.Err()
	}
}

func (t *WebsocketTransport) Close() error {
	t.cancel()
	return nil
}

func (t *WebsocketTransport) publish(name string, data json.RawMessage) {
	select {
	case t.events <- Event{Name: name, Data: data}:
	case <-t.ctx.Done():
	}
}

func (t *WebsocketTransport) run() {
	defer close(t.events)

	for {
		t.publish(EventConnecting, nil)
		ws, _, err := t.dialer.DialContext(t.ctx, t.url, nil)
		if err != nil {
			glog.Infof("[WS] connect error = %s", err)
		} else {
			t.publish(EventConnect, nil)
			t.serve(ws)
			t.publish(EventDisconnect, nil)
		}

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(t.settings.ReconnectTimeout):
		}
	}
}

// write sends one frame and reports the result to its caller. A frame picked
// up after the connection started closing is answered with ErrNotConnected.
func (t *WebsocketTransport) write(handleCtx context.Context, ws *websocket.Conn, out *outbound) error {
	if handleCtx.Err() != nil {
		out.result <- ErrNotConnected
		return ErrNotConnected
	}
	ws.SetWriteDeadline(time.Now().Add(t.settings.WriteTimeout))
	err := ws.WriteJSON(out.frame)
	if err != nil {
		// a websocket write deadline cannot be recovered
		glog.Infof("[WS]-> %s error = %s", out.frame.Event, err)
		out.result <- err
		return err
	}
	glog.V(2).Infof("[WS]-> %s", out.frame.Event)
	out.result <- nil
	return nil
}

// serve pumps frames over one connection until either direction fails.
func (t *WebsocketTransport) serve(ws *websocket.Conn) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(t.ctx)
	defer handleCancel()

	ws.SetReadDeadline(time.Now().Add(t.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(t.settings.ReadTimeout))
	})

	go func() {
		defer handleCancel()
		ping := time.NewTicker(t.settings.PingInterval)
		defer ping.Stop()

		for {
			select {
			case <-handleCtx.Done():
				ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(t.settings.WriteTimeout),
				)
				return
			case out := <-t.send:
				if err := t.write(handleCtx, ws, out); err != nil {
					return
				}
			case <-ping.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.settings.WriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer handleCancel()
		for {
			var f frame
			if err := ws.ReadJSON(&f); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					glog.Infof("[WS]<- error = %s", err)
				}
				return
			}
			ws.SetReadDeadline(time.Now().Add(t.settings.ReadTimeout))
			glog.V(2).Infof("[WS]<- %s", f.Event)
			t.publish(f.Event, f.Data)
		}
	}()

	<-handleCtx.Done()
	// unblock the reader, then let it hand off what it already read so the
	// disconnect event stays last
	ws.Close()
	<-readerDone
}
