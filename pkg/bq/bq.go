package bq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/ericvolp12/track-relay/pkg/event"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type BQ struct {
	logger       *slog.Logger
	recordSchema bigquery.Schema
	client       *bigquery.Client
	dataset      *bigquery.Dataset

	tablePrefix string

	tableDate string
	inserter  *bigquery.Inserter

	recordBuf chan *Record
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

var tracer = otel.Tracer("bq")

func NewBQ(
	ctx context.Context,
	projectID string,
	dataset string,
	tablePrefix string,
	logger *slog.Logger,
) (*BQ, error) {
	recordSchema, err := bigquery.InferSchema(Record{})
	if err != nil {
		return nil, fmt.Errorf("failed to infer schema: %w", err)
	}

	bqClient, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}

	bqDataset := bqClient.Dataset(dataset)

	if _, err := bqDataset.Metadata(ctx); err != nil {
		bqClient.Close()
		return nil, fmt.Errorf("failed to get dataset metadata, make sure to create it if it doesn't exist: %w", err)
	}

	bq := &BQ{
		recordSchema: recordSchema,
		client:       bqClient,
		dataset:      bqDataset,
		logger:       logger.With("module", "bq"),
		tablePrefix:  tablePrefix,
		recordBuf:    make(chan *Record, 100_000),
		shutdown:     make(chan struct{}),
	}

	// Start a routine to batch insert records every 5 seconds
	bq.wg.Add(1)
	go func() {
		defer bq.wg.Done()
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := bq.insertRecords(ctx); err != nil {
					bq.logger.Error("failed to insert records", "error", err)
				}
			case <-bq.shutdown:
				if err := bq.insertRecords(context.Background()); err != nil {
					bq.logger.Error("failed to insert final records", "error", err)
				}
				return
			}
		}
	}()

	return bq, nil
}

// Archive buffers ev for the next batch insert.
func (bq *BQ) Archive(ctx context.Context, ev *event.Event) error {
	ctx, span := tracer.Start(ctx, "Archive")
	defer span.End()

	span.SetAttributes(
		attribute.String("device_id", ev.DeviceID),
		attribute.String("type", ev.Type),
	)

	record, err := NewRecord(ev)
	if err != nil {
		return err
	}

	select {
	case bq.recordBuf <- record:
	case <-ctx.Done():
		return ctx.Err()
	}

	eventsBuffered.WithLabelValues(bq.tablePrefix, record.Category).Inc()
	queueDepth.WithLabelValues(bq.tablePrefix).Inc()

	return nil
}

func (bq *BQ) insertRecords(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "insertRecords")
	defer span.End()

	// Grab up to 10_000 records from the buffer
	batchSize := 10_000

	records := make([]*Record, 0, batchSize)
drain:
	for len(records) < batchSize {
		select {
		case record := <-bq.recordBuf:
			records = append(records, record)
			queueDepth.WithLabelValues(bq.tablePrefix).Dec()
		default:
			break drain
		}
	}

	// If there are no records, return early
	if len(records) == 0 {
		return nil
	}

	// Create table if it doesn't exist
	if err := bq.CreateTableIfNotExists(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	start := time.Now()
	err := bq.inserter.Put(ctx, records)
	batchSubmissionDuration.WithLabelValues(bq.tablePrefix).Observe(time.Since(start).Seconds())
	batchSizeHist.WithLabelValues(bq.tablePrefix).Observe(float64(len(records)))

	result := "ok"
	if err != nil {
		result = "failed"
	}
	for category, n := range countByCategory(records) {
		eventsInserted.WithLabelValues(bq.tablePrefix, category, result).Add(float64(n))
	}

	if err != nil {
		return fmt.Errorf("failed to insert records: %w", err)
	}
	return nil
}

func countByCategory(records []*Record) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Category]++
	}
	return counts
}

func (bq *BQ) CreateTableIfNotExists(ctx context.Context) error {
	today := time.Now().Format("20060102")

	if bq.tableDate == today && bq.inserter != nil {
		return nil
	}

	table := bq.dataset.Table(fmt.Sprintf("%s_%s", bq.tablePrefix, today))
	_, err := table.Metadata(ctx)
	if err != nil {
		bq.logger.Info("table does not exist, creating", "table", table.FullyQualifiedName())
		if err := table.Create(ctx, &bigquery.TableMetadata{Schema: bq.recordSchema}); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	bq.tableDate = today
	bq.inserter = table.Inserter()

	return nil
}

// Close flushes buffered records and closes the client.
func (bq *BQ) Close() error {
	close(bq.shutdown)
	bq.wg.Wait()
	return bq.client.Close()
}
