package models

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Operation identifies the wire-level message kind. It is decoded once from
// the "op" field so consumers switch on a closed set instead of comparing
// strings at every call site.
type Operation uint8

const (
	OpUnknown Operation = iota
	OpConnection
	OpStatus
	OpMarketChange
	OpOrderChange
)

var operationNames = map[Operation]string{
	OpConnection:   "connection",
	OpStatus:       "status",
	OpMarketChange: "mcm",
	OpOrderChange:  "ocm",
}

// ParseOperation maps a wire "op" token to an Operation. Unrecognized tokens
// map to OpUnknown rather than failing so new server-side message kinds are
// skipped, not fatal.
func ParseOperation(s string) Operation {
	switch s {
	case "connection":
		return OpConnection
	case "status":
		return OpStatus
	case "mcm":
		return OpMarketChange
	case "ocm":
		return OpOrderChange
	}
	return OpUnknown
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return "unknown"
}

func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Operation) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*o = ParseOperation(s)
	return nil
}

// ChangeType classifies a change message. The zero value is CtUpdate because
// the server omits "ct" on plain updates.
type ChangeType uint8

const (
	CtUpdate ChangeType = iota
	CtSubImage
	CtResubDelta
	CtHeartbeat
)

// ParseChangeType maps a wire "ct" token to a ChangeType.
func ParseChangeType(s string) ChangeType {
	switch s {
	case "SUB_IMAGE":
		return CtSubImage
	case "RESUB_DELTA":
		return CtResubDelta
	case "HEARTBEAT":
		return CtHeartbeat
	}
	return CtUpdate
}

func (c ChangeType) String() string {
	switch c {
	case CtSubImage:
		return "SUB_IMAGE"
	case CtResubDelta:
		return "RESUB_DELTA"
	case CtHeartbeat:
		return "HEARTBEAT"
	}
	return "UPDATE"
}

func (c ChangeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ChangeType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = ParseChangeType(s)
	return nil
}

// SegmentType marks a message's position within a segmented image.
type SegmentType uint8

const (
	SegNone SegmentType = iota
	SegStart
	Seg
	SegEnd
)

// ParseSegmentType maps a wire "segmentType" token to a SegmentType.
func ParseSegmentType(s string) SegmentType {
	switch s {
	case "SEG_START":
		return SegStart
	case "SEG":
		return Seg
	case "SEG_END":
		return SegEnd
	}
	return SegNone
}

func (s SegmentType) String() string {
	switch s {
	case SegStart:
		return "SEG_START"
	case Seg:
		return "SEG"
	case SegEnd:
		return "SEG_END"
	}
	return ""
}

func (s SegmentType) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SegmentType) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = ParseSegmentType(v)
	return nil
}

// PriceSize is a depth ladder entry, wire-encoded as [price, size].
type PriceSize struct {
	Price float64
	Size  float64
}

func (p PriceSize) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Price, p.Size})
}

func (p *PriceSize) UnmarshalJSON(b []byte) error {
	var a []float64
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if len(a) != 2 {
		return fmt.Errorf("price/size pair has %d elements", len(a))
	}
	p.Price = a[0]
	p.Size = a[1]
	return nil
}

// LevelPriceSize is a levelled best-offer entry, wire-encoded as
// [level, price, size] where level 0 is the best price.
type LevelPriceSize struct {
	Level int
	Price float64
	Size  float64
}

func (l LevelPriceSize) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{float64(l.Level), l.Price, l.Size})
}

func (l *LevelPriceSize) UnmarshalJSON(b []byte) error {
	var a []float64
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if len(a) != 3 {
		return fmt.Errorf("level/price/size triple has %d elements", len(a))
	}
	l.Level = int(a[0])
	l.Price = a[1]
	l.Size = a[2]
	return nil
}

// ChangeMessage is one decoded line of the stream. It covers every server
// message kind; which fields are populated depends on Op.
type ChangeMessage struct {
	Op Operation `json:"op"`
	ID int64     `json:"id,omitempty"`

	// connection
	ConnectionID string `json:"connectionId,omitempty"`

	// status
	StatusCode       string `json:"statusCode,omitempty"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
	ConnectionClosed *bool  `json:"connectionClosed,omitempty"`

	// mcm / ocm envelope
	InitialClk    string              `json:"initialClk,omitempty"`
	Clk           string              `json:"clk,omitempty"`
	ConflateMs    int64               `json:"conflateMs,omitempty"`
	HeartbeatMs   int64               `json:"heartbeatMs,omitempty"`
	Pt            int64               `json:"pt,omitempty"`
	Ct            ChangeType          `json:"ct,omitempty"`
	SegmentType   SegmentType         `json:"segmentType,omitempty"`
	MarketChanges []MarketChange      `json:"mc,omitempty"`
	OrderChanges  []OrderMarketChange `json:"oc,omitempty"`
}

// IsHeartbeat reports whether the message carries no state change.
func (m *ChangeMessage) IsHeartbeat() bool {
	return m.Ct == CtHeartbeat
}

// MarketChange carries the deltas (or image) for one market.
type MarketChange struct {
	ID               string            `json:"id,omitempty"`
	MarketDefinition *MarketDefinition `json:"marketDefinition,omitempty"`
	RunnerChanges    []RunnerChange    `json:"rc,omitempty"`
	Img              bool              `json:"img,omitempty"`
	TotalValue       *float64          `json:"tv,omitempty"`
	Conflated        *bool             `json:"con,omitempty"`
}

// RunnerChange carries ladder deltas for one selection within a market.
type RunnerChange struct {
	SelectionID int64    `json:"id,omitempty"`
	Handicap    *float64 `json:"hc,omitempty"`

	// Levelled best-offer ladders, [level, price, size], level 0 best.
	BestAvailableToBack []LevelPriceSize `json:"batb,omitempty"`
	BestAvailableToLay  []LevelPriceSize `json:"batl,omitempty"`
	BestDisplayToBack   []LevelPriceSize `json:"bdatb,omitempty"`
	BestDisplayToLay    []LevelPriceSize `json:"bdatl,omitempty"`

	// Full depth ladders, [price, size].
	AvailableToBack   []PriceSize `json:"atb,omitempty"`
	AvailableToLay    []PriceSize `json:"atl,omitempty"`
	Traded            []PriceSize `json:"trd,omitempty"`
	StartingPriceBack []PriceSize `json:"spb,omitempty"`
	StartingPriceLay  []PriceSize `json:"spl,omitempty"`

	LastTradedPrice   *float64 `json:"ltp,omitempty"`
	TotalValue        *float64 `json:"tv,omitempty"`
	StartingPriceNear *float64 `json:"spn,omitempty"`
	StartingPriceFar  *float64 `json:"spf,omitempty"`
}

// MarketDefinition is the full market snapshot attached to a change. It is
// always sent complete, never as a partial delta.
type MarketDefinition struct {
	Venue                 string             `json:"venue,omitempty"`
	BspMarket             bool               `json:"bspMarket,omitempty"`
	TurnInPlayEnabled     bool               `json:"turnInPlayEnabled,omitempty"`
	PersistenceEnabled    bool               `json:"persistenceEnabled,omitempty"`
	MarketBaseRate        float64            `json:"marketBaseRate,omitempty"`
	EventID               string             `json:"eventId,omitempty"`
	EventTypeID           string             `json:"eventTypeId,omitempty"`
	NumberOfWinners       int                `json:"numberOfWinners,omitempty"`
	BettingType           string             `json:"bettingType,omitempty"`
	MarketType            string             `json:"marketType,omitempty"`
	MarketTime            string             `json:"marketTime,omitempty"`
	SuspendTime           string             `json:"suspendTime,omitempty"`
	BspReconciled         bool               `json:"bspReconciled,omitempty"`
	Complete              bool               `json:"complete,omitempty"`
	InPlay                bool               `json:"inPlay,omitempty"`
	CrossMatching         bool               `json:"crossMatching,omitempty"`
	RunnersVoidable       bool               `json:"runnersVoidable,omitempty"`
	NumberOfActiveRunners int                `json:"numberOfActiveRunners,omitempty"`
	BetDelay              int                `json:"betDelay,omitempty"`
	Status                string             `json:"status,omitempty"`
	Runners               []RunnerDefinition `json:"runners,omitempty"`
	Regulators            []string           `json:"regulators,omitempty"`
	CountryCode           string             `json:"countryCode,omitempty"`
	DiscountAllowed       bool               `json:"discountAllowed,omitempty"`
	Timezone              string             `json:"timezone,omitempty"`
	OpenDate              string             `json:"openDate,omitempty"`
	Version               int64              `json:"version,omitempty"`
}

// RunnerDefinition describes one selection inside a market definition.
type RunnerDefinition struct {
	SelectionID      int64    `json:"id,omitempty"`
	Handicap         *float64 `json:"hc,omitempty"`
	Status           string   `json:"status,omitempty"`
	SortPriority     int      `json:"sortPriority,omitempty"`
	RemovalDate      string   `json:"removalDate,omitempty"`
	AdjustmentFactor float64  `json:"adjustmentFactor,omitempty"`
	Bsp              *float64 `json:"bsp,omitempty"`
}

// OrderMarketChange carries order deltas for one market on the order stream.
type OrderMarketChange struct {
	ID            string              `json:"id,omitempty"`
	AccountID     int64               `json:"accountId,omitempty"`
	Closed        bool                `json:"closed,omitempty"`
	FullImage     bool                `json:"fullImage,omitempty"`
	RunnerChanges []OrderRunnerChange `json:"orc,omitempty"`
}

// OrderRunnerChange carries the per-selection order state: unmatched orders
// plus matched-back and matched-lay ladders.
type OrderRunnerChange struct {
	SelectionID     int64            `json:"id,omitempty"`
	Handicap        *float64         `json:"hc,omitempty"`
	FullImage       bool             `json:"fullImage,omitempty"`
	UnmatchedOrders []UnmatchedOrder `json:"uo,omitempty"`
	MatchedBacks    []PriceSize      `json:"mb,omitempty"`
	MatchedLays     []PriceSize      `json:"ml,omitempty"`
}

// UnmatchedOrder mirrors the wire representation of one open order.
type UnmatchedOrder struct {
	ID              string   `json:"id,omitempty"`
	Price           float64  `json:"p,omitempty"`
	Size            float64  `json:"s,omitempty"`
	BspLiability    *float64 `json:"bsp,omitempty"`
	Side            string   `json:"side,omitempty"`
	Status          string   `json:"status,omitempty"`
	PersistenceType string   `json:"pt,omitempty"`
	OrderType       string   `json:"ot,omitempty"`
	PlacedDate      int64    `json:"pd,omitempty"`
	MatchedDate     int64    `json:"md,omitempty"`
	AveragePriceMatched *float64 `json:"avp,omitempty"`
	SizeMatched     *float64 `json:"sm,omitempty"`
	SizeRemaining   *float64 `json:"sr,omitempty"`
	SizeLapsed      *float64 `json:"sl,omitempty"`
	SizeCancelled   *float64 `json:"sc,omitempty"`
	SizeVoided      *float64 `json:"sv,omitempty"`
	RegulatorCode   string   `json:"rc,omitempty"`
	Reference       string   `json:"rfo,omitempty"`
	StrategyRef     string   `json:"rfs,omitempty"`
}
