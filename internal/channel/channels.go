package channel

import (
	"context"
	"sync"

	"betstream/logger"
	"betstream/models"
)

type ChannelStats struct {
	DecodedSent int64
	RawSent     int64
	RawDropped  int64
}

// Channels carries decoded messages from the transport to the consumer,
// plus an optional raw-line tap. The decoded channel is bounded and sends
// BLOCK when it fills: dropping a delta would silently corrupt every cache
// downstream, so backpressure is pushed onto the socket instead. The raw
// tap is best effort and drops when full.
type Channels struct {
	Decoded chan *models.ChangeMessage
	Raw     chan []byte

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(decodedBufferSize, rawBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Decoded: make(chan *models.ChangeMessage, decodedBufferSize),
		Raw:     make(chan []byte, rawBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"decoded_buffer_size": decodedBufferSize,
		"raw_buffer_size":     rawBufferSize,
	}).Info("stream channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Decoded)
	close(c.Raw)
	c.log.WithComponent("channels").Info("stream channels closed")
}

func (c *Channels) IncrementDecodedSent() {
	c.statsMutex.Lock()
	c.stats.DecodedSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRawSent() {
	c.statsMutex.Lock()
	c.stats.RawSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRawDropped() {
	c.statsMutex.Lock()
	c.stats.RawDropped++
	c.statsMutex.Unlock()
}

// SendDecoded delivers a decoded message, blocking until the consumer takes
// it or ctx is cancelled.
func (c *Channels) SendDecoded(ctx context.Context, msg *models.ChangeMessage) bool {
	select {
	case c.Decoded <- msg:
		c.IncrementDecodedSent()
		return true
	case <-ctx.Done():
		return false
	}
}

// SendRaw offers a raw line to the tap, dropping when full. The caller's
// buffer may be reused, so the line is copied, but only once the tap has
// room; a full tap costs nothing on the read path.
func (c *Channels) SendRaw(ctx context.Context, line []byte) bool {
	if len(c.Raw) == cap(c.Raw) {
		c.IncrementRawDropped()
		return false
	}
	buf := append([]byte(nil), line...)
	select {
	case c.Raw <- buf:
		c.IncrementRawSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementRawDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
