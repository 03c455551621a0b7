// Package relay ingests telemetry events, persists them and relays a
// summary of each one to the notifier.
//
// Ingestion has two phases. The persist phase (load, record, save) must
// succeed or the request fails. The relay phase (live feed, archive sinks,
// notification) is best-effort and never changes the response.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericvolp12/track-relay/pkg/event"
	"github.com/ericvolp12/track-relay/pkg/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Notifier relays a message, optionally with a base64 photo.
type Notifier interface {
	Notify(ctx context.Context, message, photo string) bool
	Configured() bool
}

// Archiver receives a copy of every stored event.
type Archiver interface {
	Archive(ctx context.Context, ev *event.Event) error
}

type Relay struct {
	logger    *slog.Logger
	store     store.Store
	notifier  Notifier
	formatter *event.Formatter
	archivers []Archiver
	hub       *Hub

	now func() time.Time
}

var tracer = otel.Tracer("relay")

func NewRelay(
	logger *slog.Logger,
	st store.Store,
	notifier Notifier,
	formatter *event.Formatter,
	archivers ...Archiver,
) *Relay {
	logger = logger.With("module", "relay")
	return &Relay{
		logger:    logger,
		store:     st,
		notifier:  notifier,
		formatter: formatter,
		archivers: archivers,
		hub:       NewHub(logger),
		now:       time.Now,
	}
}

// Hub returns the live feed hub.
func (r *Relay) Hub() *Hub {
	return r.hub
}

// Ingest stamps ev, stores it and relays it. Only a failed save is
// returned; everything after the save is logged.
func (r *Relay) Ingest(ctx context.Context, ev *event.Event) error {
	ctx, span := tracer.Start(ctx, "Ingest")
	defer span.End()

	ev.Stamp(r.now())

	category := event.CategoryOf(ev.Type)
	span.SetAttributes(
		attribute.String("device_id", ev.DeviceID),
		attribute.String("type", ev.Type),
		attribute.String("category", string(category)),
	)

	logger := r.logger.With("device_id", ev.DeviceID, "type", ev.Type, "event_id", ev.ID)

	doc := r.store.Load(ctx)
	doc.Record(ev)
	if err := r.store.Save(ctx, doc); err != nil {
		eventsIngested.WithLabelValues(string(category), "store_failed").Inc()
		return fmt.Errorf("failed to save document: %w", err)
	}

	eventsIngested.WithLabelValues(string(category), "stored").Inc()
	logger.Info("event stored")

	r.hub.Broadcast(ev)

	for _, a := range r.archivers {
		if err := a.Archive(ctx, ev); err != nil {
			logger.Error("failed to archive event", "err", err)
		}
	}

	r.relay(ctx, logger, ev)

	return nil
}

func (r *Relay) relay(ctx context.Context, logger *slog.Logger, ev *event.Event) {
	n := event.Classify(ev)
	msg, ok := r.formatter.Format(n)
	if !ok {
		logger.Debug("event suppressed, not relaying", "category", n.Category())
		return
	}

	photo := ""
	if p, isPhoto := n.(event.PhotoCapture); isPhoto {
		photo = p.Photo
	}

	if r.notifier.Notify(ctx, msg, photo) {
		relayed.WithLabelValues(string(n.Category()), "ok").Inc()
		logger.Info("event relayed", "category", n.Category())
		return
	}

	relayed.WithLabelValues(string(n.Category()), "failed").Inc()
	logger.Warn("event not relayed", "category", n.Category())
}

// Data returns the full document.
func (r *Relay) Data(ctx context.Context) *store.Document {
	return r.store.Load(ctx)
}

// Clear wipes the document.
func (r *Relay) Clear(ctx context.Context) error {
	return r.store.Clear(ctx)
}
