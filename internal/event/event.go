// Package event defines the audit event model: typed headers, payload
// variants and the content hash that makes every event tamper-evident.
package event

import (
	"fmt"
)

// SpecVersion is the evidence format version stamped on every event.
const SpecVersion = "1.1"

// TimeLayout renders timestamps with millisecond precision, matching
// the integer millisecond clock carried alongside.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Kind classifies an audit event and constrains which payload
// variants it must carry.
type Kind string

const (
	OrderSubmitted   Kind = "ORDER_SUBMITTED"
	OrderFilled      Kind = "ORDER_FILLED"
	OrderCancelled   Kind = "ORDER_CANCELLED"
	PositionOpened   Kind = "POSITION_OPENED"
	PositionClosed   Kind = "POSITION_CLOSED"
	RiskLimit        Kind = "RISK_LIMIT"
	StrategyDecision Kind = "STRATEGY_DECISION"
	ConfigChange     Kind = "CONFIG_CHANGE"
	SystemError      Kind = "SYSTEM_ERROR"
)

// Header carries event identity and hashing metadata. Field names are
// fixed by the evidence interchange format; renaming any of them
// changes every event hash.
type Header struct {
	EventID      string `json:"EventID"`
	EventType    string `json:"EventType"`
	SpecVersion  string `json:"SpecVersion"`
	TimestampISO string `json:"TimestampISO"`
	TimestampInt int64  `json:"TimestampInt"`
	HashAlgo     string `json:"HashAlgo"`
	PrevHash     string `json:"PrevHash,omitempty"`
	EventHash    string `json:"EventHash,omitempty"`
}

// TradePayload describes an order or position action. Quantity and
// price are decimal strings: the text is hashed exactly as recorded,
// with no float round-tripping.
type TradePayload struct {
	Symbol     string `json:"Symbol"`
	Side       string `json:"Side"`
	Quantity   string `json:"Quantity"`
	Price      string `json:"Price"`
	OrderID    string `json:"OrderID,omitempty"`
	PositionID string `json:"PositionID,omitempty"`
	Venue      string `json:"Venue,omitempty"`
}

// DecisionPayload records a strategy or governance decision.
type DecisionPayload struct {
	Actor     string         `json:"Actor"`
	Action    string         `json:"Action"`
	Rationale string         `json:"Rationale,omitempty"`
	Params    map[string]any `json:"Params,omitempty"`
}

// RiskPayload records a risk metric observation or limit breach.
type RiskPayload struct {
	Metric   string `json:"Metric"`
	Value    string `json:"Value"`
	Limit    string `json:"Limit,omitempty"`
	Breached bool   `json:"Breached"`
	Scope    string `json:"Scope,omitempty"`
}

// ErrorPayload records a system error worth auditing.
type ErrorPayload struct {
	Code    string         `json:"Code"`
	Message string         `json:"Message"`
	Context map[string]any `json:"Context,omitempty"`
}

// Payloads bundles the variants attached to one event. At least one
// variant must match the event kind; Extensions are always permitted.
type Payloads struct {
	Trade      *TradePayload    `json:"Trade,omitempty"`
	Decision   *DecisionPayload `json:"Decision,omitempty"`
	Risk       *RiskPayload     `json:"Risk,omitempty"`
	Error      *ErrorPayload    `json:"Error,omitempty"`
	Extensions map[string]any   `json:"Extensions,omitempty"`
}

// Event is a finalized audit event: header plus payload variants.
// Once EventHash is set the event never changes.
type Event struct {
	Header     Header           `json:"Header"`
	Trade      *TradePayload    `json:"Trade,omitempty"`
	Decision   *DecisionPayload `json:"Decision,omitempty"`
	Risk       *RiskPayload     `json:"Risk,omitempty"`
	Error      *ErrorPayload    `json:"Error,omitempty"`
	Extensions map[string]any   `json:"Extensions,omitempty"`
}

// payloadUnion returns the payload members keyed by variant name, the
// form that gets canonicalized for hashing. Nil variants are absent.
func (e *Event) payloadUnion() map[string]any {
	u := make(map[string]any)

	if e.Trade != nil {
		u["Trade"] = e.Trade
	}
	if e.Decision != nil {
		u["Decision"] = e.Decision
	}
	if e.Risk != nil {
		u["Risk"] = e.Risk
	}
	if e.Error != nil {
		u["Error"] = e.Error
	}
	if len(e.Extensions) > 0 {
		u["Extensions"] = e.Extensions
	}

	return u
}

// ValidateKind checks that the payload variants match the event kind.
func ValidateKind(kind Kind, p Payloads) error {
	switch kind {
	case OrderSubmitted, OrderFilled, OrderCancelled, PositionOpened, PositionClosed:
		if p.Trade == nil {
			return fmt.Errorf("event kind %s requires a Trade payload", kind)
		}
	case StrategyDecision, ConfigChange:
		if p.Decision == nil {
			return fmt.Errorf("event kind %s requires a Decision payload", kind)
		}
	case RiskLimit:
		if p.Risk == nil {
			return fmt.Errorf("event kind %s requires a Risk payload", kind)
		}
	case SystemError:
		if p.Error == nil {
			return fmt.Errorf("event kind %s requires an Error payload", kind)
		}
	default:
		return fmt.Errorf("unknown event kind: %q", kind)
	}

	return nil
}
