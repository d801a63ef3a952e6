// Package push maintains the websocket subscription that delivers
// marketplace events for one passenger. The adapter owns connectivity
// only: frames are normalized and handed to the engine, and every
// transport fault is handled here by reconnecting. The engine never
// learns that a connection dropped.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/hailside/hailside/internal/normalize"
	"github.com/hailside/hailside/internal/trip"
)

const (
	pingPeriod   = 30 * time.Second
	pongWait     = 60 * time.Second
	writeTimeout = 5 * time.Second
	tokenTTL     = time.Hour
)

// Submitter delivers a normalized update into the reconciliation engine.
type Submitter func(trip.Update) bool

// Claims is the token payload the event gateway expects on the auth frame.
type Claims struct {
	PassengerID string `json:"passenger_id"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Adapter is the websocket source adapter. Run dials the gateway,
// authenticates, and feeds every event frame through the normalizer into
// the engine, reconnecting with capped exponential backoff until its
// context is cancelled.
type Adapter struct {
	baseURL     string
	passengerID string
	secret      []byte
	submit      Submitter

	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(a *Adapter) {
		a.minBackoff = min
		a.maxBackoff = max
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(a *Adapter) {
		a.dialer = d
	}
}

// New creates an adapter for one passenger's event stream. baseURL is the
// gateway root, e.g. "ws://gateway.example.com"; the adapter dials
// {baseURL}/ws/passengers/{passengerID}.
func New(baseURL, passengerID string, secret []byte, submit Submitter, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:     baseURL,
		passengerID: passengerID,
		secret:      secret,
		submit:      submit,
		dialer:      websocket.DefaultDialer,
		minBackoff:  time.Second,
		maxBackoff:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run blocks until ctx is cancelled, keeping the subscription alive across
// connection faults. Returns ctx.Err() on cancellation.
func (a *Adapter) Run(ctx context.Context) error {
	backoff := a.minBackoff
	for {
		err := a.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("push connection lost, reconnecting",
			"passenger_id", a.passengerID,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > a.maxBackoff {
			backoff = a.maxBackoff
		}
	}
}

// connectAndRead performs one full session: dial, auth, then read frames
// until the connection fails or ctx is cancelled.
func (a *Adapter) connectAndRead(ctx context.Context) error {
	url := fmt.Sprintf("%s/ws/passengers/%s", a.baseURL, a.passengerID)
	conn, _, err := a.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	if err := a.authenticate(conn); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	slog.Info("push connected", "passenger_id", a.passengerID)

	// The gateway answers pings; a missed pong window fails the read and
	// triggers a reconnect.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go a.ping(pingCtx, conn)

	return a.readLoop(conn)
}

// authenticate sends the first frame of every session, a signed token
// proving the passenger identity.
func (a *Adapter) authenticate(conn *websocket.Conn) error {
	token, err := a.signToken()
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(authFrame{Type: "auth", Token: token})
}

func (a *Adapter) signToken() (string, error) {
	now := time.Now()
	claims := Claims{
		PassengerID: a.passengerID,
		Role:        "PASSENGER",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign auth token: %w", err)
	}
	return signed, nil
}

func (a *Adapter) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// readLoop normalizes and submits frames until the connection fails.
// Malformed frames are logged and dropped without breaking the session.
func (a *Adapter) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		u, err := normalize.PushUpdate(data, time.Now())
		if err != nil {
			slog.Warn("push frame dropped",
				"passenger_id", a.passengerID,
				"error", err,
			)
			continue
		}
		if !a.submit(u) {
			slog.Debug("push update discarded, engine shut down", "trip_id", u.ID)
		}
	}
}
