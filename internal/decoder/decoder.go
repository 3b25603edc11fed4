// Package decoder turns one newline-delimited line of the stream into a
// models.ChangeMessage in a single forward pass over the bytes. Recognized
// keys are decoded with type-specific fast paths; unrecognized keys are
// skipped structurally without allocating. The two full-snapshot sub-objects
// (marketDefinition and unmatched orders) are captured as raw slices and
// handed to jsoniter, since they arrive rarely compared to ladder deltas.
package decoder

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"betstream/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SyntaxError reports malformed input with the byte offset of the fault.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("decode: %s at offset %d", e.Msg, e.Offset)
}

// Decoder decodes change-message lines. It keeps a reusable scratch buffer
// for unescaping strings, so a Decoder must not be shared between
// goroutines; decoding itself is a pure function of the input bytes.
type Decoder struct {
	data    []byte
	pos     int
	scratch []byte
}

// New returns a ready Decoder.
func New() *Decoder {
	return &Decoder{scratch: make([]byte, 0, 64)}
}

// Decode parses one complete JSON object. The returned message does not
// alias the input slice, so the caller may reuse its read buffer.
func (d *Decoder) Decode(line []byte) (*models.ChangeMessage, error) {
	d.data, d.pos = line, 0
	msg := &models.ChangeMessage{}
	if err := d.decodeTop(msg); err != nil {
		d.data = nil
		return nil, err
	}
	d.skipWS()
	if d.pos != len(d.data) {
		err := d.errf("trailing data")
		d.data = nil
		return nil, err
	}
	d.data = nil
	return msg, nil
}

func (d *Decoder) decodeTop(msg *models.ChangeMessage) error {
	return d.object(func(key []byte) error {
		if d.tryNull() {
			return nil
		}
		var err error
		switch string(key) {
		case "op":
			var b []byte
			if b, err = d.readStringBytes(); err == nil {
				msg.Op = opFromBytes(b)
			}
		case "id":
			msg.ID, err = d.readInt()
		case "connectionId":
			msg.ConnectionID, err = d.readString()
		case "statusCode":
			msg.StatusCode, err = d.readString()
		case "errorCode":
			msg.ErrorCode, err = d.readString()
		case "errorMessage":
			msg.ErrorMessage, err = d.readString()
		case "connectionClosed":
			var v bool
			if v, err = d.readBool(); err == nil {
				msg.ConnectionClosed = &v
			}
		case "initialClk":
			msg.InitialClk, err = d.readString()
		case "clk":
			msg.Clk, err = d.readString()
		case "conflateMs":
			msg.ConflateMs, err = d.readInt()
		case "heartbeatMs":
			msg.HeartbeatMs, err = d.readInt()
		case "pt":
			msg.Pt, err = d.readInt()
		case "ct":
			var b []byte
			if b, err = d.readStringBytes(); err == nil {
				msg.Ct = ctFromBytes(b)
			}
		case "segmentType":
			var b []byte
			if b, err = d.readStringBytes(); err == nil {
				msg.SegmentType = segFromBytes(b)
			}
		case "mc":
			msg.MarketChanges, err = d.readMarketChanges()
		case "oc":
			msg.OrderChanges, err = d.readOrderChanges()
		default:
			err = d.skipValue()
		}
		return err
	})
}

func opFromBytes(b []byte) models.Operation {
	switch string(b) {
	case "connection":
		return models.OpConnection
	case "status":
		return models.OpStatus
	case "mcm":
		return models.OpMarketChange
	case "ocm":
		return models.OpOrderChange
	}
	return models.OpUnknown
}

func ctFromBytes(b []byte) models.ChangeType {
	switch string(b) {
	case "SUB_IMAGE":
		return models.CtSubImage
	case "RESUB_DELTA":
		return models.CtResubDelta
	case "HEARTBEAT":
		return models.CtHeartbeat
	}
	return models.CtUpdate
}

func segFromBytes(b []byte) models.SegmentType {
	switch string(b) {
	case "SEG_START":
		return models.SegStart
	case "SEG":
		return models.Seg
	case "SEG_END":
		return models.SegEnd
	}
	return models.SegNone
}

func (d *Decoder) readMarketChanges() ([]models.MarketChange, error) {
	out := make([]models.MarketChange, 0, 1)
	err := d.array(func() error {
		var mc models.MarketChange
		if err := d.readMarketChange(&mc); err != nil {
			return err
		}
		out = append(out, mc)
		return nil
	})
	return out, err
}

func (d *Decoder) readMarketChange(mc *models.MarketChange) error {
	return d.object(func(key []byte) error {
		if d.tryNull() {
			return nil
		}
		var err error
		switch string(key) {
		case "id":
			mc.ID, err = d.readString()
		case "img":
			mc.Img, err = d.readBool()
		case "tv":
			var v float64
			if v, err = d.readFloat(); err == nil {
				mc.TotalValue = &v
			}
		case "con":
			var v bool
			if v, err = d.readBool(); err == nil {
				mc.Conflated = &v
			}
		case "marketDefinition":
			var raw []byte
			if raw, err = d.captureValue(); err == nil {
				def := &models.MarketDefinition{}
				if err = json.Unmarshal(raw, def); err == nil {
					mc.MarketDefinition = def
				}
			}
		case "rc":
			mc.RunnerChanges, err = d.readRunnerChanges()
		default:
			err = d.skipValue()
		}
		return err
	})
}

func (d *Decoder) readRunnerChanges() ([]models.RunnerChange, error) {
	out := make([]models.RunnerChange, 0, 2)
	err := d.array(func() error {
		var rc models.RunnerChange
		if err := d.readRunnerChange(&rc); err != nil {
			return err
		}
		out = append(out, rc)
		return nil
	})
	return out, err
}

func (d *Decoder) readRunnerChange(rc *models.RunnerChange) error {
	setFloat := func(dst **float64) error {
		v, err := d.readFloat()
		if err != nil {
			return err
		}
		*dst = &v
		return nil
	}
	return d.object(func(key []byte) error {
		if d.tryNull() {
			return nil
		}
		var err error
		switch string(key) {
		case "id":
			rc.SelectionID, err = d.readInt()
		case "hc":
			err = setFloat(&rc.Handicap)
		case "ltp":
			err = setFloat(&rc.LastTradedPrice)
		case "tv":
			err = setFloat(&rc.TotalValue)
		case "spn":
			err = setFloat(&rc.StartingPriceNear)
		case "spf":
			err = setFloat(&rc.StartingPriceFar)
		case "batb":
			rc.BestAvailableToBack, err = d.readLevelTriples()
		case "batl":
			rc.BestAvailableToLay, err = d.readLevelTriples()
		case "bdatb":
			rc.BestDisplayToBack, err = d.readLevelTriples()
		case "bdatl":
			rc.BestDisplayToLay, err = d.readLevelTriples()
		case "atb":
			rc.AvailableToBack, err = d.readPricePairs()
		case "atl":
			rc.AvailableToLay, err = d.readPricePairs()
		case "trd":
			rc.Traded, err = d.readPricePairs()
		case "spb":
			rc.StartingPriceBack, err = d.readPricePairs()
		case "spl":
			rc.StartingPriceLay, err = d.readPricePairs()
		default:
			err = d.skipValue()
		}
		return err
	})
}

// readPricePairs decodes [[price, size], ...].
func (d *Decoder) readPricePairs() ([]models.PriceSize, error) {
	out := make([]models.PriceSize, 0, 4)
	err := d.array(func() error {
		d.skipWS()
		if err := d.expect('['); err != nil {
			return err
		}
		p, err := d.readFloat()
		if err != nil {
			return err
		}
		d.skipWS()
		if err := d.expect(','); err != nil {
			return err
		}
		s, err := d.readFloat()
		if err != nil {
			return err
		}
		d.skipWS()
		if err := d.expect(']'); err != nil {
			return err
		}
		out = append(out, models.PriceSize{Price: p, Size: s})
		return nil
	})
	return out, err
}

// readLevelTriples decodes [[level, price, size], ...] where level 0 is
// best.
func (d *Decoder) readLevelTriples() ([]models.LevelPriceSize, error) {
	out := make([]models.LevelPriceSize, 0, 4)
	err := d.array(func() error {
		d.skipWS()
		if err := d.expect('['); err != nil {
			return err
		}
		lvl, err := d.readFloat()
		if err != nil {
			return err
		}
		d.skipWS()
		if err := d.expect(','); err != nil {
			return err
		}
		p, err := d.readFloat()
		if err != nil {
			return err
		}
		d.skipWS()
		if err := d.expect(','); err != nil {
			return err
		}
		s, err := d.readFloat()
		if err != nil {
			return err
		}
		d.skipWS()
		if err := d.expect(']'); err != nil {
			return err
		}
		out = append(out, models.LevelPriceSize{Level: int(lvl), Price: p, Size: s})
		return nil
	})
	return out, err
}

func (d *Decoder) readOrderChanges() ([]models.OrderMarketChange, error) {
	out := make([]models.OrderMarketChange, 0, 1)
	err := d.array(func() error {
		var oc models.OrderMarketChange
		if err := d.readOrderChange(&oc); err != nil {
			return err
		}
		out = append(out, oc)
		return nil
	})
	return out, err
}

func (d *Decoder) readOrderChange(oc *models.OrderMarketChange) error {
	return d.object(func(key []byte) error {
		if d.tryNull() {
			return nil
		}
		var err error
		switch string(key) {
		case "id":
			oc.ID, err = d.readString()
		case "accountId":
			oc.AccountID, err = d.readInt()
		case "closed":
			oc.Closed, err = d.readBool()
		case "fullImage":
			oc.FullImage, err = d.readBool()
		case "orc":
			err = d.array(func() error {
				var orc models.OrderRunnerChange
				if err := d.readOrderRunnerChange(&orc); err != nil {
					return err
				}
				oc.RunnerChanges = append(oc.RunnerChanges, orc)
				return nil
			})
		default:
			err = d.skipValue()
		}
		return err
	})
}

func (d *Decoder) readOrderRunnerChange(orc *models.OrderRunnerChange) error {
	return d.object(func(key []byte) error {
		if d.tryNull() {
			return nil
		}
		var err error
		switch string(key) {
		case "id":
			orc.SelectionID, err = d.readInt()
		case "hc":
			var v float64
			if v, err = d.readFloat(); err == nil {
				orc.Handicap = &v
			}
		case "fullImage":
			orc.FullImage, err = d.readBool()
		case "mb":
			orc.MatchedBacks, err = d.readPricePairs()
		case "ml":
			orc.MatchedLays, err = d.readPricePairs()
		case "uo":
			var raw []byte
			if raw, err = d.captureValue(); err == nil {
				err = json.Unmarshal(raw, &orc.UnmatchedOrders)
			}
		default:
			err = d.skipValue()
		}
		return err
	})
}
