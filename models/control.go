package models

// Market data filter field tokens accepted by the server.
const (
	FieldMarketDef      = "EX_MARKET_DEF"
	FieldBestOffers     = "EX_BEST_OFFERS"
	FieldBestOffersDisp = "EX_BEST_OFFERS_DISP"
	FieldAllOffers      = "EX_ALL_OFFERS"
	FieldTraded         = "EX_TRADED"
	FieldTradedVol      = "EX_TRADED_VOL"
	FieldLTP            = "EX_LTP"
	FieldSPTraded       = "SP_TRADED"
	FieldSPProjected    = "SP_PROJECTED"
)

// AuthenticationMessage is the first control message sent after the server
// hello. Success is implied by the absence of an error status.
type AuthenticationMessage struct {
	Op      string `json:"op"`
	ID      int64  `json:"id"`
	Session string `json:"session"`
	AppKey  string `json:"appKey"`
}

// NewAuthenticationMessage builds an authentication control message.
func NewAuthenticationMessage(id int64, session, appKey string) *AuthenticationMessage {
	return &AuthenticationMessage{Op: "authentication", ID: id, Session: session, AppKey: appKey}
}

// MarketFilter selects which markets the subscription covers. Empty slices
// are omitted so the server applies no constraint for that dimension.
type MarketFilter struct {
	MarketIDs         []string `json:"marketIds,omitempty"`
	BspMarket         *bool    `json:"bspMarket,omitempty"`
	BettingTypes      []string `json:"bettingTypes,omitempty"`
	EventTypeIDs      []string `json:"eventTypeIds,omitempty"`
	EventIDs          []string `json:"eventIds,omitempty"`
	TurnInPlayEnabled *bool    `json:"turnInPlayEnabled,omitempty"`
	MarketTypes       []string `json:"marketTypes,omitempty"`
	Venues            []string `json:"venues,omitempty"`
	CountryCodes      []string `json:"countryCodes,omitempty"`
	RaceTypes         []string `json:"raceTypes,omitempty"`
}

// MarketDataFilter selects which ladder views and fields the server streams.
// LadderLevels bounds the levelled best-offer ladders (1-10).
type MarketDataFilter struct {
	LadderLevels int      `json:"ladderLevels,omitempty"`
	Fields       []string `json:"fields,omitempty"`
}

// MarketSubscriptionMessage subscribes (or, with clocks set, resubscribes)
// to market change traffic.
type MarketSubscriptionMessage struct {
	Op                  string            `json:"op"`
	ID                  int64             `json:"id"`
	SegmentationEnabled bool              `json:"segmentationEnabled,omitempty"`
	Clk                 string            `json:"clk,omitempty"`
	InitialClk          string            `json:"initialClk,omitempty"`
	HeartbeatMs         int64             `json:"heartbeatMs,omitempty"`
	ConflateMs          int64             `json:"conflateMs,omitempty"`
	MarketFilter        *MarketFilter     `json:"marketFilter,omitempty"`
	MarketDataFilter    *MarketDataFilter `json:"marketDataFilter,omitempty"`
}

// OrderFilter narrows order stream traffic.
type OrderFilter struct {
	IncludeOverallPosition        *bool    `json:"includeOverallPosition,omitempty"`
	AccountIDs                    []int64  `json:"accountIds,omitempty"`
	CustomerStrategyRefs          []string `json:"customerStrategyRefs,omitempty"`
	PartitionMatchedByStrategyRef bool     `json:"partitionMatchedByStrategyRef,omitempty"`
}

// OrderSubscriptionMessage subscribes to the caller's own order traffic.
type OrderSubscriptionMessage struct {
	Op                  string       `json:"op"`
	ID                  int64        `json:"id"`
	SegmentationEnabled bool         `json:"segmentationEnabled,omitempty"`
	Clk                 string       `json:"clk,omitempty"`
	InitialClk          string       `json:"initialClk,omitempty"`
	HeartbeatMs         int64        `json:"heartbeatMs,omitempty"`
	ConflateMs          int64        `json:"conflateMs,omitempty"`
	OrderFilter         *OrderFilter `json:"orderFilter,omitempty"`
}

// HeartbeatMessage is the client-initiated heartbeat.
type HeartbeatMessage struct {
	Op string `json:"op"`
	ID int64  `json:"id"`
}

// MarshalControl encodes a control message as a single JSON line without the
// trailing newline; the transport owns framing.
func MarshalControl(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
