package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/josecentenodev/crm-aurelia/pkg/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// phoenixServer is a minimal Phoenix channel server: it acknowledges joins,
// leaves and heartbeats and lets tests push broadcasts.
type phoenixServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	conns   []*serverConn
	frames  []Frame
	query   url.Values
	refuse  map[string]bool
	silent  map[string]bool
	upgrade websocket.Upgrader
}

type serverConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *serverConn) write(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteJSON(f)
}

func newPhoenixServer(t *testing.T) *phoenixServer {
	t.Helper()
	ps := &phoenixServer{refuse: map[string]bool{}, silent: map[string]bool{}}
	ps.srv = httptest.NewServer(http.HandlerFunc(ps.serve))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *phoenixServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http") + "/socket/websocket"
}

func (ps *phoenixServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := ps.upgrade.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{conn: conn}
	ps.mu.Lock()
	ps.query = r.URL.Query()
	ps.conns = append(ps.conns, sc)
	ps.mu.Unlock()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		ps.mu.Lock()
		ps.frames = append(ps.frames, f)
		refuse, silent := ps.refuse[f.Topic], ps.silent[f.Topic]
		ps.mu.Unlock()

		switch f.Event {
		case eventJoin:
			if silent {
				continue
			}
			status := "ok"
			if refuse {
				status = "error"
			}
			sc.write(reply(f, status))
		case eventLeave, eventHeartbeat:
			sc.write(reply(f, "ok"))
		}
	}
}

func reply(f Frame, status string) Frame {
	payload, _ := json.Marshal(replyPayload{Status: status, Response: json.RawMessage(`{}`)})
	return Frame{Topic: f.Topic, Event: eventReply, Payload: payload, Ref: f.Ref, JoinRef: f.JoinRef}
}

func (ps *phoenixServer) configure(fn func()) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	fn()
}

func (ps *phoenixServer) broadcast(topic, event string, payload any) {
	raw, _ := json.Marshal(payload)
	ps.mu.Lock()
	conns := append([]*serverConn(nil), ps.conns...)
	ps.mu.Unlock()
	for _, c := range conns {
		c.write(Frame{Topic: topic, Event: event, Payload: raw})
	}
}

func (ps *phoenixServer) dropConnections() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, c := range ps.conns {
		_ = c.conn.Close()
	}
}

func (ps *phoenixServer) seen(topic, event string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, f := range ps.frames {
		if f.Topic == topic && f.Event == event {
			return true
		}
	}
	return false
}

func dialTest(t *testing.T, ps *phoenixServer, mutate func(*Config)) *Socket {
	t.Helper()
	cfg := Config{URL: ps.url(), APIKey: "anon-key", WriteTimeout: time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := Dial(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDialSendsCredentials(t *testing.T) {
	ps := newPhoenixServer(t)
	dialTest(t, ps, nil)

	require.Eventually(t, func() bool {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		return ps.query != nil
	}, time.Second, 5*time.Millisecond)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	assert.Equal(t, "anon-key", ps.query.Get("apikey"))
	assert.Equal(t, protocolVsn, ps.query.Get("vsn"))
}

func TestDialFailures(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "not a url"}, nil)
	assert.True(t, errors.IsValidation(err))

	srv := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err = Dial(context.Background(), Config{URL: wsURL, DialTimeout: time.Second}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
}

func TestSubscribeJoinsChannel(t *testing.T) {
	ps := newPhoenixServer(t)
	s := dialTest(t, ps, nil)

	statuses := make(chan realtime.SubscribeStatus, 1)
	ch := s.Channel("conv-1")
	assert.Equal(t, realtime.StateClosed, ch.State())
	require.NoError(t, ch.Subscribe(func(st realtime.SubscribeStatus, err error) {
		statuses <- st
	}))

	select {
	case st := <-statuses:
		assert.Equal(t, realtime.StatusSubscribed, st)
	case <-time.After(2 * time.Second):
		t.Fatal("no join reply")
	}
	assert.Equal(t, realtime.StateJoined, ch.State())
	assert.True(t, ps.seen("realtime:conv-1", eventJoin))
	assert.Len(t, s.Channels(), 1)
}

func TestJoinRefused(t *testing.T) {
	ps := newPhoenixServer(t)
	ps.configure(func() { ps.refuse[TopicFor("private")] = true })
	s := dialTest(t, ps, nil)

	errs := make(chan error, 1)
	ch := s.Channel("private")
	require.NoError(t, ch.Subscribe(func(st realtime.SubscribeStatus, err error) {
		if st == realtime.StatusChannelError {
			errs <- err
		}
	}))

	select {
	case err := <-errs:
		assert.True(t, errors.IsSubscriptionFailed(err))
	case <-time.After(2 * time.Second):
		t.Fatal("no refusal")
	}
	assert.Equal(t, realtime.StateErrored, ch.State())
}

func TestEventsReachHandlers(t *testing.T) {
	ps := newPhoenixServer(t)
	s := dialTest(t, ps, nil)

	ch := s.Channel("messages")
	var inserts, all atomic.Int32
	ch.On("INSERT", func(ev realtime.Event) {
		assert.Equal(t, "messages", ev.Channel)
		assert.JSONEq(t, `{"id":7}`, string(ev.Payload))
		inserts.Add(1)
	})
	ch.On("*", func(realtime.Event) { all.Add(1) })
	require.NoError(t, ch.Subscribe(nil))
	require.Eventually(t, func() bool { return ch.State() == realtime.StateJoined }, 2*time.Second, 5*time.Millisecond)

	ps.broadcast(TopicFor("messages"), "INSERT", map[string]int{"id": 7})
	ps.broadcast(TopicFor("messages"), "DELETE", map[string]int{"id": 7})
	ps.broadcast(TopicFor("other"), "INSERT", map[string]int{"id": 8})

	require.Eventually(t, func() bool { return all.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), inserts.Load())
}

func TestUnsubscribeLeavesChannel(t *testing.T) {
	ps := newPhoenixServer(t)
	s := dialTest(t, ps, nil)

	ch := s.Channel("conv-2")
	require.NoError(t, ch.Subscribe(nil))
	require.Eventually(t, func() bool { return ch.State() == realtime.StateJoined }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ch.Unsubscribe(context.Background()))
	assert.Equal(t, realtime.StateClosed, ch.State())
	assert.True(t, ps.seen(TopicFor("conv-2"), eventLeave))

	require.NoError(t, s.RemoveChannel(context.Background(), ch))
	assert.Empty(t, s.Channels())
	require.NoError(t, s.RemoveChannel(context.Background(), ch))
}

func TestConnectionLossErrorsChannels(t *testing.T) {
	ps := newPhoenixServer(t)
	s := dialTest(t, ps, nil)

	ch := s.Channel("conv-3")
	require.NoError(t, ch.Subscribe(nil))
	require.Eventually(t, func() bool { return ch.State() == realtime.StateJoined }, 2*time.Second, 5*time.Millisecond)

	ps.dropConnections()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("socket did not notice the dropped connection")
	}
	require.Eventually(t, func() bool { return ch.State() == realtime.StateErrored }, 2*time.Second, 5*time.Millisecond)

	late := s.Channel("late")
	assert.Error(t, late.Subscribe(nil))
	assert.Equal(t, realtime.StateErrored, late.State())
}

func TestHeartbeat(t *testing.T) {
	ps := newPhoenixServer(t)
	dialTest(t, ps, func(c *Config) { c.HeartbeatInterval = 20 * time.Millisecond })

	require.Eventually(t, func() bool { return ps.seen(phoenixTopic, eventHeartbeat) }, 2*time.Second, 5*time.Millisecond)
}

func TestRegistryOverSocket(t *testing.T) {
	ps := newPhoenixServer(t)
	s := dialTest(t, ps, nil)

	reg := realtime.NewRegistry(s, realtime.Config{
		JoinTimeout:  2 * time.Second,
		PollInterval: 10 * time.Millisecond,
		CleanupDelay: time.Millisecond,
	}, nil)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	events := make(chan realtime.Event, 4)
	setup := func(ch realtime.Channel) (realtime.Channel, error) {
		ch.On("*", func(ev realtime.Event) { events <- ev })
		return ch, ch.Subscribe(nil)
	}

	ctx := context.Background()
	first, err := reg.Acquire(ctx, "pipeline", setup)
	require.NoError(t, err)
	second, err := reg.Acquire(ctx, "pipeline", setup)
	require.NoError(t, err)
	assert.Same(t, first, second)

	ps.broadcast(TopicFor("pipeline"), "UPDATE", map[string]string{"stage": "won"})
	select {
	case ev := <-events:
		assert.Equal(t, "UPDATE", ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	assert.Empty(t, events)

	reg.Release(ctx, "pipeline")
	reg.Release(ctx, "pipeline")
	assert.Equal(t, 0, reg.Status().ActiveChannelCount)
	assert.Empty(t, s.Channels())
	assert.True(t, ps.seen(TopicFor("pipeline"), eventLeave))
}

func TestRegistryJoinTimeoutOverSocket(t *testing.T) {
	ps := newPhoenixServer(t)
	ps.configure(func() { ps.silent[TopicFor("slow")] = true })
	s := dialTest(t, ps, nil)

	reg := realtime.NewRegistry(s, realtime.Config{
		JoinTimeout:    100 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		StuckThreshold: time.Hour,
	}, nil)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	_, err := reg.Acquire(context.Background(), "slow", func(ch realtime.Channel) (realtime.Channel, error) {
		return ch, ch.Subscribe(nil)
	})
	assert.True(t, errors.IsTimeout(err))
	assert.Empty(t, s.Channels())
}

func TestChannelsListsAcknowledgedJoinsOnly(t *testing.T) {
	ps := newPhoenixServer(t)
	ps.configure(func() { ps.silent[TopicFor("quiet")] = true })
	s := dialTest(t, ps, nil)

	quiet := s.Channel("quiet")
	require.NoError(t, quiet.Subscribe(nil))
	require.Eventually(t, func() bool { return ps.seen(TopicFor("quiet"), eventJoin) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, realtime.StateJoining, quiet.State())
	assert.Empty(t, s.Channels())

	// A rejoin the server has not answered yet stays listed once the handle
	// has been acknowledged before.
	conv := s.Channel("conv-4")
	require.NoError(t, conv.Subscribe(nil))
	require.Eventually(t, func() bool { return conv.State() == realtime.StateJoined }, 2*time.Second, 5*time.Millisecond)

	ps.broadcast(TopicFor("conv-4"), eventError, map[string]string{})
	require.Eventually(t, func() bool { return conv.State() == realtime.StateErrored }, 2*time.Second, 5*time.Millisecond)

	ps.configure(func() { ps.silent[TopicFor("conv-4")] = true })
	require.NoError(t, conv.Subscribe(nil))
	assert.Equal(t, realtime.StateJoining, conv.State())
	assert.Equal(t, []realtime.Channel{conv}, s.Channels())
}

func TestRegistryUnansweredJoinTimesOutWithStuckThreshold(t *testing.T) {
	ps := newPhoenixServer(t)
	ps.configure(func() { ps.silent[TopicFor("slow")] = true })
	s := dialTest(t, ps, nil)

	// Same threshold/timeout ratio as the defaults (5s of 30s).
	reg := realtime.NewRegistry(s, realtime.Config{
		JoinTimeout:    300 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		StuckThreshold: 50 * time.Millisecond,
	}, nil)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	_, err := reg.Acquire(context.Background(), "slow", func(ch realtime.Channel) (realtime.Channel, error) {
		return ch, ch.Subscribe(nil)
	})
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Equal(t, 0, reg.Status().ActiveChannelCount)
}

func TestRegistryAcceptsStuckRejoinOfAcknowledgedChannel(t *testing.T) {
	ps := newPhoenixServer(t)
	s := dialTest(t, ps, nil)

	rejoining := s.Channel("pipeline")
	require.NoError(t, rejoining.Subscribe(nil))
	require.Eventually(t, func() bool { return rejoining.State() == realtime.StateJoined }, 2*time.Second, 5*time.Millisecond)
	ps.broadcast(TopicFor("pipeline"), eventError, map[string]string{})
	require.Eventually(t, func() bool { return rejoining.State() == realtime.StateErrored }, 2*time.Second, 5*time.Millisecond)
	ps.configure(func() { ps.silent[TopicFor("pipeline")] = true })

	reg := realtime.NewRegistry(s, realtime.Config{
		JoinTimeout:    2 * time.Second,
		PollInterval:   10 * time.Millisecond,
		StuckThreshold: 50 * time.Millisecond,
	}, nil)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	ctx := context.Background()
	got, err := reg.Acquire(ctx, "pipeline", func(ch realtime.Channel) (realtime.Channel, error) {
		if err := s.RemoveChannel(ctx, ch); err != nil {
			return nil, err
		}
		return rejoining, rejoining.Subscribe(nil)
	})
	require.NoError(t, err)
	assert.Same(t, rejoining, got)
	assert.Equal(t, realtime.StateJoining, got.State())
	assert.Equal(t, 1, reg.Status().ActiveChannelCount)
}
