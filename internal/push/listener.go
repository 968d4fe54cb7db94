package push

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/paychat-app/paychat/internal/bus"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Listener maintains the websocket connection to the live-event channel
// and publishes decoded events on the bus. Delivery is at-least-once:
// downstream consumers are responsible for idempotent application.
type Listener struct {
	url    string
	token  string
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewListener creates a listener for the given websocket URL.
func NewListener(url, token string, b *bus.Bus, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{url: url, token: token, bus: b, logger: logger}
}

// Start begins the connect/read/reconnect loop.
func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

// Stop tears down the connection and the loop.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Listener) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := l.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		l.publishConnectivity(false)
		l.logger.Warn("live channel disconnected", zap.Error(err), zap.Int("attempt", attempt))

		attempt++
		delay := backoffDelay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) connectAndRead(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if l.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + l.token}}
	}
	conn, _, err := websocket.Dial(ctx, l.url, opts)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	l.logger.Info("live channel connected")
	l.publishConnectivity(true)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		evt, err := Parse(data)
		if err != nil {
			l.logger.Warn("dropping undecodable push frame", zap.Error(err))
			continue
		}
		if evt == nil {
			continue
		}
		l.bus.Publish(*evt)
	}
}

func (l *Listener) publishConnectivity(online bool) {
	l.bus.Publish(bus.Event{
		Kind:      bus.KindPushConnectivity,
		Timestamp: time.Now(),
		Payload:   bus.Connectivity{Online: online},
	})
}

// backoffDelay returns a capped exponential delay with jitter.
func backoffDelay(attempt int) time.Duration {
	d := reconnectBaseDelay << uint(attempt-1)
	if d > reconnectMaxDelay || d <= 0 {
		d = reconnectMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}
