package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailside/hailside/internal/trip"
)

var testSecret = []byte("test-secret")

type updateSink struct {
	mu      sync.Mutex
	updates []trip.Update
	notify  chan struct{}
}

func newUpdateSink() *updateSink {
	return &updateSink{notify: make(chan struct{}, 16)}
}

func (s *updateSink) submit(u trip.Update) bool {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *updateSink) all() []trip.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trip.Update(nil), s.updates...)
}

func (s *updateSink) waitFor(t *testing.T, n int) []trip.Update {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if got := s.all(); len(got) >= n {
			return got
		}
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d updates, have %d", n, len(s.all()))
		}
	}
}

// gateway is a minimal event-gateway fake: it upgrades, checks the auth
// frame, then plays scripted frames.
type gateway struct {
	t        *testing.T
	secret   []byte
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions int
	serve    func(session int, conn *websocket.Conn)
}

func (g *gateway) handler(w http.ResponseWriter, r *http.Request) {
	require.True(g.t, strings.HasPrefix(r.URL.Path, "/ws/passengers/"))
	passengerID := strings.TrimPrefix(r.URL.Path, "/ws/passengers/")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	require.NoError(g.t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var auth authFrame
	require.NoError(g.t, conn.ReadJSON(&auth))
	require.Equal(g.t, "auth", auth.Type)

	var claims Claims
	token, err := jwt.ParseWithClaims(auth.Token, &claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	})
	require.NoError(g.t, err)
	require.True(g.t, token.Valid)
	require.Equal(g.t, passengerID, claims.PassengerID)
	require.Equal(g.t, "PASSENGER", claims.Role)

	g.mu.Lock()
	g.sessions++
	session := g.sessions
	g.mu.Unlock()

	g.serve(session, conn)
}

func (g *gateway) sessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions
}

func startGateway(t *testing.T, serve func(session int, conn *websocket.Conn)) string {
	g := &gateway{t: t, secret: testSecret, serve: serve}
	srv := httptest.NewServer(http.HandlerFunc(g.handler))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestAdapter_AuthenticatesAndDeliversFrames(t *testing.T) {
	url := startGateway(t, func(_ int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"driver_inbound","ride_id":"T1"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"driver_arrived","ride_id":"T1"}`))
		time.Sleep(time.Second)
	})

	sink := newUpdateSink()
	a := New(url, "p-77", testSecret, sink.submit, WithBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	updates := sink.waitFor(t, 2)
	assert.Equal(t, trip.StatusInbound, updates[0].ProposedStatus)
	assert.Equal(t, trip.StatusArrived, updates[1].ProposedStatus)
	assert.Equal(t, trip.SourcePush, updates[0].Source)
	assert.Equal(t, trip.ID("T1"), updates[0].ID)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestAdapter_ReconnectsAfterConnectionLoss(t *testing.T) {
	url := startGateway(t, func(session int, conn *websocket.Conn) {
		switch session {
		case 1:
			conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"driver_inbound","ride_id":"T1"}`))
			// Session ends; the adapter must come back for the rest.
		default:
			conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"driver_arrived","ride_id":"T1"}`))
			time.Sleep(time.Second)
		}
	})

	sink := newUpdateSink()
	a := New(url, "p-77", testSecret, sink.submit, WithBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	updates := sink.waitFor(t, 2)
	assert.Equal(t, trip.StatusInbound, updates[0].ProposedStatus)
	assert.Equal(t, trip.StatusArrived, updates[1].ProposedStatus)
}

func TestAdapter_DropsMalformedFramesAndKeepsSession(t *testing.T) {
	url := startGateway(t, func(_ int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"driver_sneezed","ride_id":"T1"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"driver_arrived","ride_id":"T1"}`))
		time.Sleep(time.Second)
	})

	sink := newUpdateSink()
	a := New(url, "p-77", testSecret, sink.submit, WithBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	updates := sink.waitFor(t, 1)
	assert.Equal(t, trip.StatusArrived, updates[0].ProposedStatus,
		"only the well-formed frame survives")
}

func TestAdapter_RunReturnsWhenGatewayUnreachable(t *testing.T) {
	sink := newUpdateSink()
	a := New("ws://127.0.0.1:1", "p-77", testSecret, sink.submit,
		WithBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := a.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, sink.all())
}
