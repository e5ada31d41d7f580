// Package transport is a websocket client for Phoenix-protocol realtime
// servers. A Socket multiplexes any number of topic channels over one
// connection and implements realtime.Transport.
package transport

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"github.com/josecentenodev/crm-aurelia/pkg/realtime"
	"go.uber.org/zap"
)

// Config describes the upstream websocket.
type Config struct {
	URL               string
	APIKey            string
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

var _ realtime.Transport = (*Socket)(nil)

// Socket is a single connection to the realtime server.
type Socket struct {
	cfg    Config
	conn   *websocket.Conn
	logger *logging.ColoredLogger

	writeMu sync.Mutex

	mu       sync.RWMutex
	channels []*channel
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to cfg.URL and starts the reader and heartbeat loops.
func Dial(ctx context.Context, cfg Config, logger *logging.ColoredLogger) (*Socket, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg = cfg.withDefaults()

	endpoint, err := url.Parse(cfg.URL)
	if err != nil || endpoint.Host == "" {
		return nil, errors.NewValidationError("transport.url", "must be a ws:// or wss:// URL", cfg.URL)
	}
	q := endpoint.Query()
	if cfg.APIKey != "" {
		q.Set("apikey", cfg.APIKey)
	}
	q.Set("vsn", protocolVsn)
	endpoint.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, errors.NewTransportError("dial", err)
	}

	s := &Socket{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.heartbeatLoop()

	logger.ComponentInfo(logging.ComponentTransport, "realtime socket connected",
		zap.String("host", endpoint.Host))
	return s, nil
}

// Channel implements realtime.Transport. Every call returns a new channel,
// even for a name that already has one.
func (s *Socket) Channel(name string) realtime.Channel {
	ch := newChannel(s, name)
	s.mu.Lock()
	if s.closed {
		ch.state = realtime.StateErrored
	}
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
	return ch
}

// RemoveChannel implements realtime.Transport. Removing an unknown channel
// is a no-op.
func (s *Socket) RemoveChannel(ctx context.Context, c realtime.Channel) error {
	target, ok := c.(*channel)
	if !ok {
		return errors.NewValidationError("channel", "not created by this socket", c.Name())
	}

	s.mu.Lock()
	found := false
	for i, ch := range s.channels {
		if ch == target {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return nil
	}

	if st := target.State(); st == realtime.StateJoined || st == realtime.StateJoining {
		if err := target.Unsubscribe(ctx); err != nil {
			return err
		}
	}
	target.setState(realtime.StateClosed)
	return nil
}

// Channels implements realtime.Transport. Only channels whose join the
// server has answered are listed.
func (s *Socket) Channels() []realtime.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]realtime.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		if ch.acknowledged() {
			out = append(out, ch)
		}
	}
	return out
}

// Done is closed when the connection has gone away.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Close sends a close frame, drops the connection and waits for the
// background loops to exit.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
		s.writeMu.Unlock()
	})
	s.wg.Wait()
	return err
}

func (s *Socket) send(f Frame) error {
	if f.Payload == nil {
		f.Payload = emptyPayload
	}
	data, err := json.Marshal(f)
	if err != nil {
		return errors.NewTransportError("encode "+f.Event, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return errors.NewTransportError("send "+f.Event, errors.ErrClosed)
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.NewTransportError("send "+f.Event, err)
	}
	return nil
}

func (s *Socket) readLoop() {
	defer s.wg.Done()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.connectionLost(err)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.ComponentWarn(logging.ComponentTransport, "dropping malformed frame",
				zap.Int("bytes", len(data)),
				zap.Error(err))
			continue
		}
		if f.Topic == phoenixTopic {
			continue
		}
		for _, ch := range s.channelsFor(f.Topic) {
			ch.handle(f)
		}
	}
}

func (s *Socket) channelsFor(topic string) []*channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*channel
	for _, ch := range s.channels {
		if ch.topic == topic {
			out = append(out, ch)
		}
	}
	return out
}

// connectionLost marks every channel errored so the registry replaces them
// on their next acquire. After Close they are marked closed instead.
func (s *Socket) connectionLost(err error) {
	s.mu.Lock()
	intentional := s.closed
	s.closed = true
	chans := append([]*channel(nil), s.channels...)
	s.mu.Unlock()

	if !intentional {
		s.logger.ComponentError(logging.ComponentTransport, "realtime socket lost",
			zap.Error(err))
		s.closeOnce.Do(func() {
			close(s.done)
			_ = s.conn.Close()
		})
	}
	for _, ch := range chans {
		if intentional {
			ch.terminate(realtime.StateClosed, realtime.StatusClosed, nil)
		} else {
			ch.terminate(realtime.StateErrored, realtime.StatusChannelError, errors.NewTransportError("read", err))
		}
	}
}

func (s *Socket) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.send(Frame{Topic: phoenixTopic, Event: eventHeartbeat, Ref: newRef()}); err != nil {
				s.logger.ComponentWarn(logging.ComponentTransport, "heartbeat failed", zap.Error(err))
			}
		}
	}
}
