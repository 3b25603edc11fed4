package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"

	"betstream/auth"
	"betstream/config"
	"betstream/internal/channel"
	"betstream/internal/session"
	"betstream/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func testConfig() *config.Config {
	return &config.Config{
		Stream: config.StreamConfig{
			Endpoint:        "example.test:443",
			DialTimeout:     time.Second,
			ReadBufferBytes: 1 << 20,
			WriteRateLimit:  config.RateLimitConfig{RequestsPerSecond: 0},
			Reconnect: config.ReconnectConfig{
				MaxAttempts: 3,
				BaseDelay:   10 * time.Millisecond,
				MaxDelay:    50 * time.Millisecond,
				Factor:      2,
			},
		},
	}
}

func testProtocol() *session.Protocol {
	return session.New(session.Config{
		AppKey:       "app-key",
		HeartbeatMs:  5000,
		MarketFilter: &models.MarketFilter{MarketIDs: []string{"1.100"}},
		MarketDataFilter: &models.MarketDataFilter{
			LadderLevels: 3,
			Fields:       []string{models.FieldBestOffers, models.FieldMarketDef},
		},
	})
}

// script drives the server side of a net.Pipe connection.
type script struct {
	conn net.Conn
	r    *bufio.Reader
}

func newScript(conn net.Conn) *script {
	return &script{conn: conn, r: bufio.NewReader(conn)}
}

func (s *script) send(t *testing.T, line string) {
	t.Helper()
	if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func (s *script) expect(t *testing.T, op string) map[string]interface{} {
	t.Helper()
	line, err := s.r.ReadString('\n')
	if err != nil {
		t.Errorf("server read: %v", err)
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Errorf("server unmarshal %q: %v", line, err)
		return nil
	}
	if m["op"] != op {
		t.Errorf("op = %v, want %s (line %q)", m["op"], op, line)
	}
	return m
}

func (s *script) statusOK(t *testing.T, req map[string]interface{}) {
	t.Helper()
	id := int64(req["id"].(float64))
	s.send(t, fmt.Sprintf(`{"op":"status","id":%d,"statusCode":"SUCCESS"}`, id))
}

// pipeDialer hands out pre-arranged server connections, failing once they
// run out.
func pipeDialer(conns chan net.Conn) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		select {
		case conn, ok := <-conns:
			if !ok {
				return nil, errors.New("no more connections")
			}
			return conn, nil
		default:
			return nil, errors.New("no more connections")
		}
	}
}

func drainUntilMarketChange(t *testing.T, ch *channel.Channels, timeout time.Duration) *models.ChangeMessage {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-ch.Decoded:
			if !ok {
				t.Fatalf("decoded channel closed before a market change arrived")
			}
			if msg.Op == models.OpMarketChange {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a market change")
		}
	}
}

func TestClientHandshakeAndDelivery(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	conns := make(chan net.Conn, 1)
	conns <- clientConn

	ch := channel.NewChannels(16, 4)
	proto := testProtocol()
	client := NewClientWithDialer(testConfig(), proto, auth.Static("token-1"), ch, pipeDialer(conns))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	srv := newScript(serverConn)
	srv.send(t, `{"op":"connection","connectionId":"002-1"}`)
	authReq := srv.expect(t, "authentication")
	if authReq["session"] != "token-1" || authReq["appKey"] != "app-key" {
		t.Errorf("auth = %v", authReq)
	}
	srv.statusOK(t, authReq)
	subReq := srv.expect(t, "marketSubscription")
	if _, hasClk := subReq["clk"]; hasClk {
		t.Errorf("first subscription should carry no clk: %v", subReq)
	}
	srv.statusOK(t, subReq)
	srv.send(t, `{"op":"mcm","id":2,"initialClk":"i1","clk":"c1","pt":100,"ct":"SUB_IMAGE","mc":[{"id":"1.100","img":true,"rc":[{"id":7,"batb":[[0,1.5,10]]}]}]}`)

	msg := drainUntilMarketChange(t, ch, 2*time.Second)
	if msg.Clk != "c1" || len(msg.MarketChanges) != 1 || msg.MarketChanges[0].ID != "1.100" {
		t.Fatalf("decoded message = %+v", msg)
	}
	if proto.State() != session.StateSubscribed {
		t.Fatalf("state = %v, want subscribed", proto.State())
	}

	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("Run returned %v on cancellation, want nil", err)
	}
	// channel closed on exit
	for range ch.Decoded {
	}
}

func TestClientAuthFailureIsFatal(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	conns := make(chan net.Conn, 1)
	conns <- clientConn

	ch := channel.NewChannels(16, 4)
	client := NewClientWithDialer(testConfig(), testProtocol(), auth.Static("bad"), ch, pipeDialer(conns))

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(context.Background()) }()

	srv := newScript(serverConn)
	srv.send(t, `{"op":"connection","connectionId":"002-2"}`)
	authReq := srv.expect(t, "authentication")
	id := int64(authReq["id"].(float64))
	srv.send(t, fmt.Sprintf(`{"op":"status","id":%d,"statusCode":"FAILURE","errorCode":"INVALID_SESSION_INFORMATION","errorMessage":"expired","connectionClosed":true}`, id))

	go func() {
		for range ch.Decoded {
		}
	}()

	select {
	case err := <-runErr:
		if !errors.Is(err, session.ErrAuthenticationFailed) {
			t.Fatalf("err = %v, want ErrAuthenticationFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return on authentication failure")
	}
}

// A server-negotiated heartbeatMs far below the configured one must shorten
// the watchdog's reaction time too, not just the deadline arithmetic.
func TestClientHonorsNegotiatedHeartbeatPromptly(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	conns := make(chan net.Conn, 1)
	conns <- clientConn

	cfg := testConfig()
	cfg.Stream.Reconnect.MaxAttempts = 0
	ch := channel.NewChannels(16, 4)
	client := NewClientWithDialer(cfg, testProtocol(), auth.Static("token"), ch, pipeDialer(conns))

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(context.Background()) }()
	go func() {
		for range ch.Decoded {
		}
	}()

	srv := newScript(serverConn)
	srv.send(t, `{"op":"connection","connectionId":"002-5"}`)
	srv.statusOK(t, srv.expect(t, "authentication"))
	srv.statusOK(t, srv.expect(t, "marketSubscription"))
	srv.send(t, `{"op":"mcm","id":2,"clk":"c1","pt":1,"ct":"HEARTBEAT","heartbeatMs":200}`)
	// swallow the client's heartbeat nudges so its writes never block
	go func() {
		for {
			if _, err := srv.r.ReadString('\n'); err != nil {
				return
			}
		}
	}()

	// 200ms interval means silence is fatal after 400ms; well before the
	// half of the configured 5000ms the watchdog would otherwise sleep.
	select {
	case err := <-runErr:
		if !errors.Is(err, session.ErrHeartbeatTimeout) {
			t.Fatalf("err = %v, want ErrHeartbeatTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watchdog did not react to the negotiated heartbeat interval")
	}
}

func TestClientReconnectResumesWithClk(t *testing.T) {
	firstClient, firstServer := net.Pipe()
	secondClient, secondServer := net.Pipe()
	conns := make(chan net.Conn, 2)
	conns <- firstClient
	conns <- secondClient

	ch := channel.NewChannels(16, 4)
	proto := testProtocol()
	client := NewClientWithDialer(testConfig(), proto, auth.Static("token"), ch, pipeDialer(conns))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	go func() {
		for range ch.Decoded {
		}
	}()

	srv := newScript(firstServer)
	srv.send(t, `{"op":"connection","connectionId":"002-3"}`)
	authReq := srv.expect(t, "authentication")
	srv.statusOK(t, authReq)
	subReq := srv.expect(t, "marketSubscription")
	srv.statusOK(t, subReq)
	srv.send(t, `{"op":"mcm","id":2,"initialClk":"i1","clk":"c9","pt":1,"mc":[{"id":"1.100","img":true}]}`)

	// wait for the clock to land before dropping the socket
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, clk := proto.Clocks(); clk == "c9" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("clk never stored")
		}
		time.Sleep(5 * time.Millisecond)
	}
	firstServer.Close()

	srv2 := newScript(secondServer)
	srv2.send(t, `{"op":"connection","connectionId":"002-4"}`)
	authReq = srv2.expect(t, "authentication")
	srv2.statusOK(t, authReq)
	subReq = srv2.expect(t, "marketSubscription")
	if subReq["clk"] != "c9" || subReq["initialClk"] != "i1" {
		t.Fatalf("resubscription should resume from stored clocks: %v", subReq)
	}
	srv2.statusOK(t, subReq)

	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("Run returned %v on cancellation, want nil", err)
	}
}
