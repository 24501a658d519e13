package generator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

const (
	defaultBasePrice = 100.0
	// volatility is the largest single-tick move, as a fraction of the price.
	volatility = 0.005
)

var minPrice = decimal.New(1, -2)

// StockGenerator publishes a random walk of prices for a fixed set of tickers.
type StockGenerator struct {
	logger      *zap.Logger
	writer      KafkaWriter
	tickers     []string
	prices      map[string]decimal.Decimal
	rand        Rand
	clock       Clock
	interval    time.Duration
	seqCounters map[string]int64
}

func NewStockGenerator(
	logger *zap.Logger,
	writer KafkaWriter,
	tickers []string,
	basePrices map[string]float64,
	rnd Rand,
	clock Clock,
	interval time.Duration,
) *StockGenerator {
	// Config keys arrive lower-cased.
	bases := make(map[string]float64, len(basePrices))
	for sym, p := range basePrices {
		bases[models.NormalizeSymbol(sym)] = p
	}

	normalized := make([]string, 0, len(tickers))
	prices := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		sym := models.NormalizeSymbol(t)
		if sym == "" {
			continue
		}
		if _, dup := prices[sym]; dup {
			continue
		}
		base, ok := bases[sym]
		if !ok || base <= 0 {
			base = defaultBasePrice
		}
		normalized = append(normalized, sym)
		prices[sym] = decimal.NewFromFloat(base).Round(2)
	}

	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	return &StockGenerator{
		logger:      logger,
		writer:      writer,
		tickers:     normalized,
		prices:      prices,
		rand:        rnd,
		clock:       clock,
		interval:    interval,
		seqCounters: make(map[string]int64),
	}
}

// Next advances one random ticker and returns its new tick.
func (sg *StockGenerator) Next() models.StockUpdate {
	symbol := sg.tickers[sg.rand.Intn(len(sg.tickers))]

	// Uniform move in [-volatility, +volatility] of the current price.
	last := sg.prices[symbol]
	pct := decimal.NewFromFloat((sg.rand.Float64()*2 - 1) * volatility)
	price := last.Add(last.Mul(pct)).Round(2)
	if price.LessThan(minPrice) {
		price = minPrice
	}
	sg.prices[symbol] = price
	sg.seqCounters[symbol]++

	return models.StockUpdate{
		Symbol:    symbol,
		Price:     price.InexactFloat64(),
		Timestamp: sg.clock.Now().UnixMicro(),
		SeqID:     sg.seqCounters[symbol],
	}
}

func (sg *StockGenerator) Run(ctx context.Context) {
	sg.logger.Info("Generator Started", zap.Strings("tickers", sg.tickers), zap.Duration("interval", sg.interval))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(sg.tickers) == 0 {
				sg.clock.Sleep(1 * time.Second)
				continue
			}

			update := sg.Next()
			payload, err := json.Marshal(update)
			if err != nil {
				sg.logger.Error("JSON Marshal Error", zap.Error(err))
				continue
			}

			err = sg.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(update.Symbol), // Key ensures partition ordering
				Value: payload,
			})
			if err != nil {
				sg.logger.Error("Kafka Write Error", zap.Error(err))
			} else {
				sg.logger.Debug("Sent update", zap.String("symbol", update.Symbol), zap.Float64("price", update.Price))
			}

			sg.clock.Sleep(sg.interval)
		}
	}
}
