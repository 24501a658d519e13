package broadcast

import (
	"errors"
	"time"

	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/quotes"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/registry"
)

// ErrNotResolved marks an interest the cycle never attempted, e.g. one added
// after the interest snapshot was taken.
var ErrNotResolved = errors.New("not resolved this cycle")

// Entry is one symbol of an outbound update: a price or an error.
type Entry struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
	Err       error
}

func (e Entry) OK() bool { return e.Err == nil }

// OutboundUpdate is everything one subscriber receives in one cycle.
type OutboundUpdate struct {
	SubscriberID registry.SubscriberID
	At           time.Time
	Entries      []Entry
}

// BuildUpdate assembles the update for s from its own interests only.
func BuildUpdate(s registry.Subscriber, cache *UpdateCache, at time.Time) OutboundUpdate {
	u := OutboundUpdate{SubscriberID: s.ID, At: at, Entries: make([]Entry, 0, len(s.Interests))}
	for _, sym := range s.Interests {
		r, ok := cache.Lookup(sym)
		switch {
		case !ok:
			u.Entries = append(u.Entries, Entry{Symbol: sym, Err: ErrNotResolved})
		case r.OK():
			u.Entries = append(u.Entries, Entry{Symbol: sym, Price: r.Quote.Price, Timestamp: r.Quote.Timestamp})
		default:
			u.Entries = append(u.Entries, Entry{Symbol: sym, Err: r.Err})
		}
	}
	return u
}

// Frames encodes the update either as a single "updates" frame or as one
// frame per entry.
func (u OutboundUpdate) Frames(batch bool) ([][]byte, error) {
	values := make([]any, 0, len(u.Entries))
	for _, e := range u.Entries {
		if e.OK() {
			values = append(values, protocol.NewPriceUpdate(e.Symbol, e.Price, e.Timestamp))
		} else {
			values = append(values, protocol.NewSymbolError(e.Symbol, clientMessage(e.Err)))
		}
	}

	if batch {
		b, err := protocol.Encode(protocol.Updates{Type: protocol.TypeUpdates, Timestamp: u.At.UnixMilli(), Entries: values})
		if err != nil {
			return nil, err
		}
		return [][]byte{b}, nil
	}

	frames := make([][]byte, 0, len(values))
	for _, v := range values {
		b, err := protocol.Encode(v)
		if err != nil {
			return nil, err
		}
		frames = append(frames, b)
	}
	return frames, nil
}

// clientMessage hides infrastructure details from clients.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrResolveTimeout):
		return ErrResolveTimeout.Error()
	case errors.Is(err, ErrNotResolved):
		return ErrNotResolved.Error()
	case errors.Is(err, quotes.ErrNoQuote):
		return quotes.ErrNoQuote.Error()
	case errors.Is(err, quotes.ErrStaleQuote):
		return quotes.ErrStaleQuote.Error()
	case errors.Is(err, quotes.ErrMalformedQuote):
		return quotes.ErrMalformedQuote.Error()
	default:
		return "quote source unavailable"
	}
}
