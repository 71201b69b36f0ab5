package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/practicetree/go/internal/race/registry"
	"github.com/mcdev12/practicetree/go/internal/race/transport"
	"github.com/rs/zerolog/log"
)

var (
	// ErrWrongService is returned when a host does not advertise the race service.
	ErrWrongService = errors.New("host does not run the race service")
	// ErrRemote wraps a failure reported by the host for one request.
	ErrRemote = errors.New("host refused request")
	// ErrLinkClosed is returned by operations on a closed link.
	ErrLinkClosed = errors.New("link closed")
)

// FetchAdvertisement reads a host's /info and checks it advertises the race service.
func FetchAdvertisement(ctx context.Context, client *http.Client, serverURL string) (Advertisement, error) {
	u, err := url.JoinPath(serverURL, "info")
	if err != nil {
		return Advertisement{}, fmt.Errorf("build info url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Advertisement{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Advertisement{}, fmt.Errorf("fetch advertisement: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Advertisement{}, fmt.Errorf("fetch advertisement: status %d", resp.StatusCode)
	}

	var ad Advertisement
	if err := json.NewDecoder(resp.Body).Decode(&ad); err != nil {
		return Advertisement{}, fmt.Errorf("decode advertisement: %w", err)
	}
	if ad.Service != registry.ServiceUUID {
		return ad, fmt.Errorf("%w: %s", ErrWrongService, ad.Service)
	}
	return ad, nil
}

// raceURL turns a host base URL into its websocket endpoint.
func raceURL(serverURL, name string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u = u.JoinPath("ws", "race")
	u.RawQuery = url.Values{"name": {name}}.Encode()
	return u.String(), nil
}

// ClientLink is a racer's websocket link to a host. It implements transport.Link and
// reports completions and notifications to its handler from its read loop.
type ClientLink struct {
	conn    *websocket.Conn
	handler transport.Handler
	config  ConnectionConfig

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	downOnce  sync.Once

	mu  sync.Mutex
	seq uint64
}

var _ transport.Link = (*ClientLink)(nil)

// Dial joins the host at serverURL as name. On success the handler has already received
// OnLinkUp; it receives OnLinkDown exactly once when the link ends.
func Dial(ctx context.Context, serverURL, name string, handler transport.Handler, config ConnectionConfig) (*ClientLink, error) {
	wsURL, err := raceURL(serverURL, name)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: config.WriteTimeout,
		ReadBufferSize:   config.ReadBufferSize,
		WriteBufferSize:  config.WriteBufferSize,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	l := &ClientLink{
		conn:    conn,
		handler: handler,
		config:  config,
		send:    make(chan []byte, config.SendBuffer),
		done:    make(chan struct{}),
	}
	handler.OnLinkUp(l)
	go l.writePump()
	go l.readPump()

	log.Info().Str("url", wsURL).Msg("joined host")
	return l, nil
}

// Done is closed when the link ends.
func (l *ClientLink) Done() <-chan struct{} { return l.done }

// Close ends the link.
func (l *ClientLink) Close() error {
	l.closeOnce.Do(func() {
		deadline := time.Now().Add(l.config.WriteTimeout)
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		l.conn.Close()
	})
	return nil
}

// Read implements transport.Link.
func (l *ClientLink) Read(target uuid.UUID) error {
	return l.request(Frame{Op: OpRead, UUID: target})
}

// Write implements transport.Link.
func (l *ClientLink) Write(target uuid.UUID, value []byte) error {
	return l.request(Frame{Op: OpWrite, UUID: target, Value: string(value)})
}

// SetNotify implements transport.Link.
func (l *ClientLink) SetNotify(target uuid.UUID, enable bool) error {
	op := OpUnsubscribe
	if enable {
		op = OpSubscribe
	}
	return l.request(Frame{Op: op, UUID: target})
}

func (l *ClientLink) request(f Frame) error {
	l.mu.Lock()
	l.seq++
	f.Seq = l.seq
	l.mu.Unlock()

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}
	select {
	case l.send <- data:
		return nil
	default:
		return fmt.Errorf("%s %s: send buffer full", f.Op, f.UUID)
	}
}

func (l *ClientLink) writePump() {
	ticker := time.NewTicker(l.config.PingInterval)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case <-l.done:
			return
		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Msg("failed to write frame")
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Msg("failed to send ping")
				return
			}
		}
	}
}

func (l *ClientLink) readPump() {
	var cause error
	defer func() {
		close(l.done)
		l.conn.Close()
		l.downOnce.Do(func() { l.handler.OnLinkDown(cause) })
	}()

	l.conn.SetReadLimit(l.config.MaxMessageSize)
	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			cause = linkError(err)
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			log.Warn().Err(err).Msg("malformed frame from host")
			continue
		}
		l.dispatch(f)
	}
}

func (l *ClientLink) dispatch(f Frame) {
	var err error
	if f.Error != "" {
		err = fmt.Errorf("%w: %s", ErrRemote, f.Error)
	}

	switch f.Op {
	case OpNotify:
		l.handler.OnCharacteristicChanged(f.UUID, []byte(f.Value))
	case OpResult:
		if f.Request == OpRead {
			l.handler.OnReadComplete(f.UUID, []byte(f.Value), err)
			return
		}
		l.handler.OnWriteComplete(f.UUID, err)
	default:
		log.Warn().Str("op", string(f.Op)).Msg("unexpected frame from host")
	}
}

// linkError turns a read failure into the reason reported with OnLinkDown.
func linkError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNormalClosure {
			return transport.ErrLinkLost
		}
		if ce.Text != "" {
			return fmt.Errorf("%w: %s", transport.ErrLinkLost, ce.Text)
		}
	}
	return fmt.Errorf("%w: %v", transport.ErrLinkLost, err)
}
