package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/websocket"
)

const defaultReconnectInterval = 30 * time.Second

// consumer is an interface for something that consumes push frames of a
// given type. The listener supports at most one consumer per push type.
type consumer interface {
	Update(data io.Reader) error
}

// Listener maintains a websocket connection to the push gateway and
// dispatches inbound frames to the consumer registered for each frame type.
type Listener struct {
	logger            log.Logger
	url               string
	authToken         string
	dialer            *websocket.Dialer
	consumers         map[string]consumer
	reconnectInterval time.Duration

	connMu    sync.Mutex
	conn      *websocket.Conn
	interrupt chan struct{}
	once      sync.Once
}

type ListenerOption func(*Listener)

func WithReconnectInterval(interval time.Duration) ListenerOption {
	return func(l *Listener) {
		l.reconnectInterval = interval
	}
}

func WithDisableTLS() ListenerOption {
	return func(l *Listener) {
		l.url = fmt.Sprintf("ws%s", l.url[3:])
	}
}

func New(logger log.Logger, addr string, authToken string, opts ...ListenerOption) *Listener {
	l := &Listener{
		logger:            log.With(logger, "component", "push_listener"),
		url:               fmt.Sprintf("wss://%s/api/v1/push", addr),
		authToken:         authToken,
		dialer:            websocket.DefaultDialer,
		consumers:         make(map[string]consumer),
		reconnectInterval: defaultReconnectInterval,
		interrupt:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func (l *Listener) RegisterConsumer(pushType string, consumer consumer) error {
	if _, ok := l.consumers[pushType]; ok {
		return fmt.Errorf("push type %s already has registered consumer", pushType)
	}
	l.consumers[pushType] = consumer
	return nil
}

// Execute connects to the push gateway and reads frames until interrupted,
// reconnecting with a fixed backoff on any dial or read error.
func (l *Listener) Execute() error {
	for {
		select {
		case <-l.interrupt:
			return nil
		default:
		}

		if err := l.listen(); err != nil {
			level.Debug(l.logger).Log("msg", "push connection lost, will reconnect", "err", err)
		}

		select {
		case <-l.interrupt:
			return nil
		case <-time.After(l.reconnectInterval):
		}
	}
}

func (l *Listener) Interrupt(err error) {
	l.once.Do(func() {
		close(l.interrupt)
	})

	// Close any open connection so a blocked read returns.
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		l.conn.Close()
	}
}

func (l *Listener) listen() error {
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", l.authToken))

	conn, _, err := l.dialer.Dial(l.url, header)
	if err != nil {
		return fmt.Errorf("dialing push gateway: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	defer conn.Close()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading push frame: %w", err)
		}

		l.dispatch(frame)
	}
}

func (l *Listener) dispatch(frame []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		level.Debug(l.logger).Log("msg", "received push frame in unexpected format, discarding", "err", err)
		return
	}

	consumer, ok := l.consumers[envelope.Type]
	if !ok {
		level.Debug(l.logger).Log("msg", "no consumer registered for push type, discarding", "push_type", envelope.Type)
		return
	}

	if err := consumer.Update(bytes.NewReader(frame)); err != nil {
		level.Error(l.logger).Log("msg", "consumer failed to process push frame", "push_type", envelope.Type, "err", err)
	}
}
