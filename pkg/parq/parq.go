package parq

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/ericvolp12/track-relay/pkg/event"
	"github.com/parquet-go/parquet-go"
)

type Record struct {
	ReceivedAt int64    `parquet:"received_at"`
	ID         string   `parquet:"id"`
	DeviceID   string   `parquet:"device_id"`
	Type       string   `parquet:"type"`
	Category   string   `parquet:"category"`
	Lat        *float64 `parquet:"lat,optional"`
	Lng        *float64 `parquet:"lng,optional"`
	Accuracy   *float64 `parquet:"accuracy,optional"`
	Altitude   *float64 `parquet:"altitude,optional"`
	Speed      *float64 `parquet:"speed,optional"`
	PhotoBytes int64    `parquet:"photo_bytes"`
	Raw        string   `parquet:"raw"`
}

// NewRecord flattens a stored event. The photo payload is left out of Raw;
// only its length is kept.
func NewRecord(ev *event.Event) (*Record, error) {
	sum, err := ev.Summarize()
	if err != nil {
		return nil, err
	}

	r := &Record{
		ID:         ev.ID,
		DeviceID:   ev.DeviceID,
		Type:       ev.Type,
		Category:   string(sum.Category),
		Lat:        sum.Lat,
		Lng:        sum.Lng,
		Accuracy:   sum.Accuracy,
		Altitude:   sum.Altitude,
		Speed:      sum.Speed,
		PhotoBytes: sum.PhotoBytes,
		Raw:        string(sum.Raw),
	}
	if !sum.ReceivedAt.IsZero() {
		r.ReceivedAt = sum.ReceivedAt.UnixMilli()
	}

	return r, nil
}

type Parq struct {
	logger       *slog.Logger
	fileDir      string
	prefix       string
	writeQueue   chan *Record
	shutdown     chan struct{}
	wg           sync.WaitGroup
	batchSize    int
	maxBatchWait time.Duration
}

func NewParq(logger *slog.Logger, fileDir, prefix string, batchSize int, maxBatchWait time.Duration) (*Parq, error) {
	p := Parq{
		logger:       logger.With("module", "parq"),
		fileDir:      fileDir,
		prefix:       prefix,
		batchSize:    batchSize,
		maxBatchWait: maxBatchWait,
		writeQueue:   make(chan *Record, batchSize*2),
		shutdown:     make(chan struct{}),
	}

	// Make sure the file directory exists
	err := os.MkdirAll(fileDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file directory: %w", err)
	}

	return &p, nil
}

// StartWriter starts the writer goroutine which writes records to parquet files
// when the batch size is reached, after every maxBatchWait duration, or when the shutdown signal is received
func (p *Parq) StartWriter() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		var records []*Record
		t := time.NewTicker(p.maxBatchWait)
		defer t.Stop()

		p.logger.Info("starting parquet writer loop")

		flush := func(reason string) {
			if len(records) == 0 {
				return
			}
			p.logger.Info("writing parquet file", "reason", reason, "num_records", len(records))
			if err := p.WriteFile(records); err != nil {
				p.logger.Error("failed to write parquet file", "error", err)
			}
			records = nil
		}

		for {
			select {
			case r := <-p.writeQueue:
				records = append(records, r)
				if len(records) >= p.batchSize {
					flush("max_batch_size")
				}
			case <-t.C:
				flush("max_batch_wait")
			case <-p.shutdown:
				p.logger.Info("shutting down parquet writer")
				// Drain anything enqueued before shutdown.
				for drained := false; !drained; {
					select {
					case r := <-p.writeQueue:
						records = append(records, r)
					default:
						drained = true
					}
				}
				flush("shutdown")
				return
			}
		}
	}()
}

// Shutdown signals the writer goroutine to shutdown
func (p *Parq) Shutdown() {
	p.logger.Info("waiting for parquet writer to shutdown")
	close(p.shutdown)
	p.wg.Wait()
	p.logger.Info("parquet writer shutdown successfully")
}

// Archive enqueues ev to be written to the next parquet file.
func (p *Parq) Archive(ctx context.Context, ev *event.Event) error {
	r, err := NewRecord(ev)
	if err != nil {
		return err
	}

	select {
	case p.writeQueue <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteFile writes the given records to a parquet file
func (p *Parq) WriteFile(records []*Record) error {
	// Write files to a parquet file with the current timestamp as the file suffix
	fName := path.Join(p.fileDir, fmt.Sprintf("%s_%s.parquet", p.prefix, time.Now().UTC().Format("2006_01_02-15_04_05.000")))

	filterBits := uint(10)

	err := parquet.WriteFile(fName, records, parquet.BloomFilters(
		parquet.SplitBlockFilter(filterBits, "device_id"),
		parquet.SplitBlockFilter(filterBits, "type"),
		parquet.SplitBlockFilter(filterBits, "category"),
	))
	if err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}

	p.logger.Info("wrote parquet file", "file_path", fName)

	return nil
}
