// Package stream owns the socket side of the system: it dials the endpoint,
// frames lines, decodes them, drives the session state machine, and delivers
// the decoded messages in wire order over a bounded channel. On transport
// faults it reconnects with exponential backoff and resubscribes with the
// stored clocks so the server sends a delta instead of a full image.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"betstream/auth"
	"betstream/config"
	"betstream/internal/channel"
	"betstream/internal/decoder"
	"betstream/internal/session"
	"betstream/logger"
)

// Client runs the stream. Create with NewClient, then call Run; the decoded
// messages arrive on the channels passed at construction. Run returns nil on
// context cancellation and an error on a fatal session fault or reconnect
// exhaustion; either way the decoded channel is closed on exit.
type Client struct {
	cfg      *config.Config
	dial     Dialer
	proto    *session.Protocol
	tokens   auth.TokenProvider
	channels *channel.Channels
	dec      *decoder.Decoder
	limiter  *rate.Limiter
	log      *logger.Log
}

// NewClient wires a client against the configured endpoint.
func NewClient(cfg *config.Config, proto *session.Protocol, tokens auth.TokenProvider, channels *channel.Channels) *Client {
	c := &Client{
		cfg:      cfg,
		dial:     tlsDialer(cfg.Stream.Endpoint, cfg.Stream.DialTimeout),
		proto:    proto,
		tokens:   tokens,
		channels: channels,
		dec:      decoder.New(),
		limiter:  writeLimiter(cfg.Stream.WriteRateLimit),
		log:      logger.GetLogger(),
	}
	return c
}

// NewClientWithDialer substitutes the connection factory; used by tests and
// by deployments that need a proxied dial.
func NewClientWithDialer(cfg *config.Config, proto *session.Protocol, tokens auth.TokenProvider, channels *channel.Channels, dial Dialer) *Client {
	c := NewClient(cfg, proto, tokens, channels)
	c.dial = dial
	return c
}

func writeLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// Run connects and streams until ctx is cancelled, a fatal session fault
// occurs, or reconnection attempts are exhausted.
func (c *Client) Run(ctx context.Context) error {
	defer c.channels.Close()

	rc := c.cfg.Stream.Reconnect
	bo := &backoff.Backoff{Min: rc.BaseDelay, Max: rc.MaxDelay, Factor: rc.Factor, Jitter: true}
	attempts := 0
	log := c.log.WithComponent("stream")

	for {
		sawTraffic, err := c.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && isFatal(err) {
			log.WithError(err).Error("fatal stream error")
			return err
		}
		if sawTraffic {
			bo.Reset()
			attempts = 0
		}
		attempts++
		if attempts > rc.MaxAttempts {
			return fmt.Errorf("stream: giving up after %d reconnect attempts: %w", rc.MaxAttempts, err)
		}

		logger.IncrementReconnect()
		delay := bo.Duration()
		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempts,
			"delay":   delay.String(),
			"resume":  c.proto.CanResume(),
		}).Warn("connection lost, reconnecting")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// isFatal reports whether reconnecting cannot help: bad credentials, a
// rejected subscription, or no token to authenticate with.
func isFatal(err error) bool {
	return errors.Is(err, session.ErrAuthenticationFailed) ||
		errors.Is(err, session.ErrSubscriptionFailed) ||
		errors.Is(err, auth.ErrNoToken)
}

// runConnection runs one socket to completion. It reports whether any
// change traffic arrived, which resets the backoff.
func (c *Client) runConnection(ctx context.Context) (bool, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return false, err
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	t := newTransport(conn, c.cfg.Stream.ReadBufferBytes, c.limiter)
	defer t.Close()

	log := c.log.WithComponent("stream").WithFields(logger.Fields{
		"attempt_id": uuid.NewString(),
		"endpoint":   c.cfg.Stream.Endpoint,
	})
	log.Info("connected")

	c.proto.BeginConnection(token, time.Now())

	var sawTraffic atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Unblocks the scanner when anything else fails or ctx ends.
		<-gctx.Done()
		t.Close()
		return nil
	})
	g.Go(func() error {
		return c.readLoop(gctx, t, log, &sawTraffic)
	})
	g.Go(func() error {
		return c.watchdog(gctx, t)
	})
	return sawTraffic.Load(), g.Wait()
}

func (c *Client) readLoop(ctx context.Context, t *transport, log *logger.Entry, sawTraffic *atomic.Bool) error {
	for {
		line, err := t.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		logger.IncrementLineRead(len(line))

		msg, derr := c.dec.Decode(line)
		if derr != nil {
			// Poison lines never tear the connection down.
			logger.IncrementDecodeError()
			log.WithError(derr).WithFields(logger.Fields{"line_bytes": len(line)}).Warn("skipping unparseable line")
			continue
		}
		sawTraffic.Store(true)

		out, perr := c.proto.Handle(msg, time.Now())
		if perr != nil {
			return perr
		}
		for _, ctrl := range out {
			if err := t.WriteLine(ctx, ctrl); err != nil {
				return err
			}
		}

		c.channels.SendRaw(ctx, line)
		if !c.channels.SendDecoded(ctx, msg) {
			return ctx.Err()
		}
	}
}

// watchdogTick is short relative to any negotiable heartbeat interval, so a
// server that renegotiates heartbeatMs mid-stream never delays timeout
// detection by more than one tick.
const watchdogTick = 100 * time.Millisecond

// watchdog tears the connection down on heartbeat silence and nudges the
// server with a client heartbeat once the quiet stretch passes one interval.
func (c *Client) watchdog(ctx context.Context, t *transport) error {
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()

	nudged := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now()
			if c.proto.Expired(now) {
				return session.ErrHeartbeatTimeout
			}
			quiet := c.proto.HeartbeatInterval()
			if time.Until(c.proto.Deadline()) < quiet {
				if !nudged {
					nudged = true
					line, err := c.proto.Heartbeat()
					if err == nil {
						if werr := t.WriteLine(ctx, line); werr != nil && ctx.Err() == nil {
							return werr
						}
					}
				}
			} else {
				nudged = false
			}
		}
	}
}
