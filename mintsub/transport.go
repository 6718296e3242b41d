package mintsub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// defaultHandshakeTimeout bounds the websocket dial.
	defaultHandshakeTimeout = 10 * time.Second

	// wsPath is the mint's websocket endpoint.
	wsPath = "/v1/ws"

	// pongWait is how long a connection may stay silent before the read
	// loop declares it dead.
	pongWait = 120 * time.Second
)

// wsRequest is the JSON-RPC subscribe command sent after connecting.
type wsRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int      `json:"id"`
	Method  string   `json:"method"`
	Params  wsParams `json:"params"`
}

type wsParams struct {
	Kind    string   `json:"kind"`
	SubID   string   `json:"subId"`
	Filters []string `json:"filters"`
}

// wsNotification is a notification frame pushed by the mint.
type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		SubID   string          `json:"subId"`
		Payload json.RawMessage `json:"payload"`
	} `json:"params"`
}

// wsQuotePayload is the subset of the notification payload the manager
// cares about.
type wsQuotePayload struct {
	Quote string `json:"quote"`
	State string `json:"state"`
}

// WebsocketTransport opens quote subscriptions over the mint's websocket
// endpoint. One socket carries both the mint-quote and melt-quote streams
// for the subscribed ids.
type WebsocketTransport struct {
	dialer *websocket.Dialer
}

// NewWebsocketTransport creates a WebsocketTransport with default dial
// parameters.
func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
}

// Subscribe dials the mint's websocket endpoint and subscribes to updates
// for the given quote ids, on both the mint-quote and melt-quote streams.
func (t *WebsocketTransport) Subscribe(ctx context.Context, mintURL string,
	quoteIDs []string) (Subscription, error) {

	endpoint, err := websocketURL(mintURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %v: %w", endpoint, err)
	}

	sub := &wsSubscription{
		conn:    conn,
		updates: make(chan Update),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	// The transport protocol has no way to extend a live subscription's
	// filters, which is why the manager replaces subscriptions to grow
	// the watch set.
	for i, kind := range []string{"bolt11_mint_quote", "bolt11_melt_quote"} {
		req := &wsRequest{
			JSONRPC: "2.0",
			ID:      i + 1,
			Method:  "subscribe",
			Params: wsParams{
				Kind:    kind,
				SubID:   fmt.Sprintf("%s-%d", kind, i),
				Filters: quoteIDs,
			},
		}
		if err := conn.WriteJSON(req); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %v: %w", kind, err)
		}
	}

	go sub.readLoop()

	return sub, nil
}

// websocketURL rewrites a mint's http(s) URL to its websocket endpoint.
func websocketURL(mintURL string) (string, error) {
	u, err := url.Parse(mintURL)
	if err != nil {
		return "", fmt.Errorf("mint url %q: %w", mintURL, err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("mint url %q: unsupported scheme %q",
			mintURL, u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + wsPath

	return u.String(), nil
}

// wsSubscription is one live websocket subscription.
type wsSubscription struct {
	conn    *websocket.Conn
	updates chan Update

	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// Updates delivers the mint's notifications.
func (s *wsSubscription) Updates() <-chan Update {
	return s.updates
}

// Done is closed when the socket dies.
func (s *wsSubscription) Done() <-chan struct{} {
	return s.done
}

// Close tears the subscription down. Idempotent.
func (s *wsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		err = s.conn.Close()
	})
	return err
}

// readLoop turns notification frames into Updates until the socket dies,
// then closes Done so the manager can evict the subscription.
func (s *wsSubscription) readLoop() {
	defer close(s.done)

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if err := s.conn.SetReadDeadline(
			time.Now().Add(pongWait),
		); err != nil {
			return
		}

		var ntfn wsNotification
		if err := s.conn.ReadJSON(&ntfn); err != nil {
			log.Debugf("Websocket read failed: %v", err)
			return
		}

		// Frames other than subscription notifications, like the
		// acks to the subscribe commands, are skipped.
		if ntfn.Method != "subscribe" ||
			len(ntfn.Params.Payload) == 0 {

			continue
		}

		var payload wsQuotePayload
		if err := json.Unmarshal(
			ntfn.Params.Payload, &payload,
		); err != nil {
			log.Warnf("Malformed notification payload: %v", err)
			continue
		}

		select {
		case s.updates <- Update{
			QuoteID: payload.Quote,
			State:   payload.State,
			Payload: ntfn.Params.Payload,
		}:
		case <-s.quit:
			return
		}
	}
}
