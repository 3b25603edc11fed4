// Package session implements the protocol state machine that sits between
// the raw connection and the caches: it answers the server hello with
// authentication, follows up with subscriptions, tracks the resumption
// clocks from every change message, and watches the heartbeat deadline. It
// performs no I/O; Handle returns the control lines the transport must
// write.
package session

import (
	"fmt"
	"sync"
	"time"

	"betstream/models"
)

// State is the protocol phase of the current connection.
type State uint8

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateSubscribed
	StateResubscribing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateResubscribing:
		return "resubscribing"
	}
	return "unknown"
}

type requestKind uint8

const (
	kindAuthentication requestKind = iota
	kindMarketSubscription
	kindOrderSubscription
	kindHeartbeat
)

// DefaultHeartbeatMs applies until the server confirms a negotiated value.
const DefaultHeartbeatMs = 5000

// Config carries the static subscription parameters.
type Config struct {
	AppKey              string
	HeartbeatMs         int64
	ConflateMs          int64
	SegmentationEnabled bool

	// At least one filter must be set; both may be.
	MarketFilter     *models.MarketFilter
	MarketDataFilter *models.MarketDataFilter
	OrderFilter      *models.OrderFilter
}

// Protocol is the session state machine. Safe for concurrent use; the
// transport's read loop drives Handle while the watchdog polls Expired.
type Protocol struct {
	mu  sync.Mutex
	cfg Config

	state        State
	connectionID string
	token        string
	nextID       int64
	pending      map[int64]requestKind
	awaiting     int

	marketClk        string
	marketInitialClk string
	orderClk         string
	orderInitialClk  string

	heartbeatMs int64
	lastSeen    time.Time
}

// New returns a protocol in the Disconnected state.
func New(cfg Config) *Protocol {
	hb := cfg.HeartbeatMs
	if hb <= 0 {
		hb = DefaultHeartbeatMs
	}
	return &Protocol{
		cfg:         cfg,
		pending:     make(map[int64]requestKind),
		heartbeatMs: hb,
	}
}

// State returns the current protocol phase.
func (p *Protocol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ConnectionID returns the server-assigned id of the current connection.
func (p *Protocol) ConnectionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectionID
}

// Clocks returns the stored market-stream resumption tokens.
func (p *Protocol) Clocks() (initialClk, clk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.marketInitialClk, p.marketClk
}

// CanResume reports whether a reconnect can ask for a delta instead of a
// fresh image.
func (p *Protocol) CanResume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.marketClk != "" || p.orderClk != ""
}

// BeginConnection arms the machine for a fresh socket. Resumption clocks
// survive so the subscriptions sent on this connection pick up where the
// previous one stopped. The session token is captured per connection
// because the external login collaborator may have refreshed it.
func (p *Protocol) BeginConnection(token string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateDisconnected
	p.connectionID = ""
	p.token = token
	p.pending = make(map[int64]requestKind)
	p.awaiting = 0
	p.lastSeen = now
}

// Handle advances the machine with one received message and returns the
// control lines to write, in order. A returned error is fatal for the
// session (authentication/subscription failure, server-side close); the
// transport must not retry it blindly.
func (p *Protocol) Handle(msg *models.ChangeMessage, now time.Time) ([][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = now

	switch msg.Op {
	case models.OpConnection:
		return p.onConnection(msg)
	case models.OpStatus:
		return p.onStatus(msg)
	case models.OpMarketChange:
		p.onMarketChange(msg)
	case models.OpOrderChange:
		p.onOrderChange(msg)
	}
	return nil, nil
}

func (p *Protocol) onConnection(msg *models.ChangeMessage) ([][]byte, error) {
	p.connectionID = msg.ConnectionID
	p.state = StateConnected

	id := p.allocID(kindAuthentication)
	line, err := models.MarshalControl(models.NewAuthenticationMessage(id, p.token, p.cfg.AppKey))
	if err != nil {
		return nil, fmt.Errorf("session: marshal authentication: %w", err)
	}
	p.state = StateAuthenticating
	return [][]byte{line}, nil
}

func (p *Protocol) onStatus(msg *models.ChangeMessage) ([][]byte, error) {
	kind, known := p.pending[msg.ID]
	delete(p.pending, msg.ID)

	if msg.ConnectionClosed != nil && *msg.ConnectionClosed {
		p.state = StateDisconnected
		if msg.StatusCode == "FAILURE" {
			return nil, p.failure(kind, known, msg)
		}
		return nil, fmt.Errorf("%w: %s", ErrConnectionClosed, msg.ErrorCode)
	}
	if msg.StatusCode == "FAILURE" {
		return nil, p.failure(kind, known, msg)
	}
	if !known {
		return nil, nil
	}

	switch kind {
	case kindAuthentication:
		p.state = StateAuthenticated
		return p.subscriptions()
	case kindMarketSubscription, kindOrderSubscription:
		p.awaiting--
		if p.awaiting <= 0 {
			p.state = StateSubscribed
		}
	}
	return nil, nil
}

// failure maps a FAILURE status to an error kind by the request it answers.
// Only authentication and subscription rejections are unretryable; anything
// else (a heartbeat rejection, an unsolicited failure) is a connection-level
// fault and the caller reconnects.
func (p *Protocol) failure(kind requestKind, known bool, msg *models.ChangeMessage) error {
	base := ErrConnectionClosed
	if known {
		switch kind {
		case kindAuthentication:
			base = ErrAuthenticationFailed
		case kindMarketSubscription, kindOrderSubscription:
			base = ErrSubscriptionFailed
		}
	}
	p.state = StateDisconnected
	return fmt.Errorf("%w: %s: %s", base, msg.ErrorCode, msg.ErrorMessage)
}

// subscriptions builds the market and/or order subscription lines, attaching
// stored clocks so a reconnect resumes as a delta.
func (p *Protocol) subscriptions() ([][]byte, error) {
	resuming := p.marketClk != "" || p.orderClk != ""
	var lines [][]byte

	if p.cfg.MarketFilter != nil || p.cfg.MarketDataFilter != nil {
		id := p.allocID(kindMarketSubscription)
		sub := &models.MarketSubscriptionMessage{
			Op:                  "marketSubscription",
			ID:                  id,
			SegmentationEnabled: p.cfg.SegmentationEnabled,
			Clk:                 p.marketClk,
			InitialClk:          p.marketInitialClk,
			HeartbeatMs:         p.cfg.HeartbeatMs,
			ConflateMs:          p.cfg.ConflateMs,
			MarketFilter:        p.cfg.MarketFilter,
			MarketDataFilter:    p.cfg.MarketDataFilter,
		}
		line, err := models.MarshalControl(sub)
		if err != nil {
			return nil, fmt.Errorf("session: marshal market subscription: %w", err)
		}
		lines = append(lines, line)
		p.awaiting++
	}
	if p.cfg.OrderFilter != nil {
		id := p.allocID(kindOrderSubscription)
		sub := &models.OrderSubscriptionMessage{
			Op:                  "orderSubscription",
			ID:                  id,
			SegmentationEnabled: p.cfg.SegmentationEnabled,
			Clk:                 p.orderClk,
			InitialClk:          p.orderInitialClk,
			HeartbeatMs:         p.cfg.HeartbeatMs,
			ConflateMs:          p.cfg.ConflateMs,
			OrderFilter:         p.cfg.OrderFilter,
		}
		line, err := models.MarshalControl(sub)
		if err != nil {
			return nil, fmt.Errorf("session: marshal order subscription: %w", err)
		}
		lines = append(lines, line)
		p.awaiting++
	}
	if len(lines) > 0 {
		if resuming {
			p.state = StateResubscribing
		}
	} else {
		p.state = StateSubscribed
	}
	return lines, nil
}

// Later clocks supersede earlier ones; initialClk arrives once per
// subscription and is kept for the life of the session.
func (p *Protocol) onMarketChange(msg *models.ChangeMessage) {
	if msg.InitialClk != "" {
		p.marketInitialClk = msg.InitialClk
	}
	if msg.Clk != "" {
		p.marketClk = msg.Clk
	}
	if msg.HeartbeatMs > 0 {
		p.heartbeatMs = msg.HeartbeatMs
	}
}

func (p *Protocol) onOrderChange(msg *models.ChangeMessage) {
	if msg.InitialClk != "" {
		p.orderInitialClk = msg.InitialClk
	}
	if msg.Clk != "" {
		p.orderClk = msg.Clk
	}
	if msg.HeartbeatMs > 0 {
		p.heartbeatMs = msg.HeartbeatMs
	}
}

// Heartbeat builds a client-initiated heartbeat line.
func (p *Protocol) Heartbeat() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.allocID(kindHeartbeat)
	return models.MarshalControl(&models.HeartbeatMessage{Op: "heartbeat", ID: id})
}

// HeartbeatInterval returns the negotiated (or default) heartbeat interval.
func (p *Protocol) HeartbeatInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.heartbeatMs) * time.Millisecond
}

// Deadline returns the instant after which the connection counts as dead:
// twice the heartbeat interval past the last received message.
func (p *Protocol) Deadline() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen.Add(2 * time.Duration(p.heartbeatMs) * time.Millisecond)
}

// Expired reports whether the liveness window has passed.
func (p *Protocol) Expired(now time.Time) bool {
	return now.After(p.Deadline())
}

func (p *Protocol) allocID(kind requestKind) int64 {
	p.nextID++
	p.pending[p.nextID] = kind
	return p.nextID
}
