package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound message types
const (
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypeUnsubscribeAll = "unsubscribe_all"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Outbound frame types
const (
	TypePriceUpdate = "price_update"
	TypeError       = "error"
	TypeUpdates     = "updates"
	TypeAck         = "ack"
)

var ErrMissingType = errors.New("missing message type")

// Request is one inbound control message.
type Request struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
	ID      string   `json:"id,omitempty"`
}

// DecodeRequest parses one text frame.
func DecodeRequest(payload []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Type == "" {
		return Request{}, ErrMissingType
	}
	return req, nil
}

type PriceUpdate struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

type ErrorFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message"`
}

// Updates batches a subscriber's whole outbound update into one frame.
// Entries hold PriceUpdate and ErrorFrame values.
type Updates struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Entries   []any  `json:"entries"`
}

type Ack struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewPriceUpdate(symbol string, price float64, ts time.Time) PriceUpdate {
	return PriceUpdate{Type: TypePriceUpdate, Symbol: symbol, Price: price, Timestamp: ts.UnixMilli()}
}

func NewSymbolError(symbol, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Symbol: symbol, Message: message}
}

func NewError(id, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, ID: id, Message: message}
}

func NewAck(id, action string, symbols []string) Ack {
	if symbols == nil {
		symbols = []string{}
	}
	return Ack{Type: TypeAck, ID: id, Action: action, Symbols: symbols}
}

func NewPing(ts time.Time) Ping {
	return Ping{Type: TypePing, Timestamp: ts.UnixMilli()}
}

func NewPong(ts time.Time) Ping {
	return Ping{Type: TypePong, Timestamp: ts.UnixMilli()}
}

// Encode marshals any outbound frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
