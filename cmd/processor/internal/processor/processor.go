package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/pkg/config"
	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

const storeTimeout = 2 * time.Second

var ErrInvalidUpdate = errors.New("invalid update")

// Processor consumes ticks from Kafka and keeps the latest one per symbol in
// the snapshot store. Ticks are sharded by key so each symbol is handled by a
// single worker, in order.
type Processor struct {
	logger     Logger
	store      SnapshotWriter
	reader     KafkaReader
	numWorkers int
	queueSize  int
}

func NewProcessor(cfg config.ProcessorConfig, logger Logger, store SnapshotWriter, reader KafkaReader) *Processor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Processor{
		logger:     logger,
		store:      store,
		reader:     reader,
		numWorkers: numWorkers,
		queueSize:  queueSize,
	}
}

// Run blocks until ctx is cancelled, then drains the workers.
func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, p.queueSize)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) ||
					errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Deterministic Sharding: Same symbol always goes to same worker
			workerID := getWorkerID(m.Key, p.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				// Latest price wins; a stale tick is not worth blocking the reader.
				messagesTotal.WithLabelValues("dropped").Inc()
				p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	// The reader must be gone before its channels close.
	<-readerDone
	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()

	// Local state for deduplication (only works because of deterministic sharding)
	lastSeq := make(map[string]int64)

	for payload := range msgs {
		update, err := decodeUpdate(payload)
		if err != nil {
			messagesTotal.WithLabelValues("invalid").Inc()
			p.logger.Error("Rejected tick", zap.Error(err))
			continue
		}

		if update.SeqID <= lastSeq[update.Symbol] {
			messagesTotal.WithLabelValues("duplicate").Inc()
			p.logger.Debug("Skipping duplicate update", zap.String("symbol", update.Symbol), zap.Int64("seq_id", update.SeqID))
			continue
		}

		// Not tied to the run context so shutdown does not cut a write in half.
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err = p.store.Put(ctx, update)
		cancel()

		if err != nil {
			messagesTotal.WithLabelValues("store_error").Inc()
			p.logger.Error("Snapshot write failed", zap.Error(err), zap.String("symbol", update.Symbol))
			continue
		}
		messagesTotal.WithLabelValues("stored").Inc()
		p.logger.Debug("Processed", zap.String("symbol", update.Symbol), zap.Int("worker_id", id), zap.Int64("seq_id", update.SeqID))
		lastSeq[update.Symbol] = update.SeqID
	}
}

func decodeUpdate(payload []byte) (models.StockUpdate, error) {
	var update models.StockUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return models.StockUpdate{}, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	update.Symbol = models.NormalizeSymbol(update.Symbol)
	if update.Symbol == "" {
		return models.StockUpdate{}, fmt.Errorf("%w: missing symbol", ErrInvalidUpdate)
	}
	if update.Price <= 0 || math.IsInf(update.Price, 0) || math.IsNaN(update.Price) {
		return models.StockUpdate{}, fmt.Errorf("%w: bad price %v for %s", ErrInvalidUpdate, update.Price, update.Symbol)
	}
	return update, nil
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
