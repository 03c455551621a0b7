package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericvolp12/track-relay/pkg/event"
	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type eventRow struct {
	Seq      uint   `gorm:"primarykey"`
	EventID  string `gorm:"index"`
	DeviceID string `gorm:"index"`
	Type     string
	Raw      []byte // Raw JSON event
}

func (eventRow) TableName() string { return "events" }

type deviceRow struct {
	Seq       uint   `gorm:"primarykey"`
	DeviceID  string `gorm:"uniqueIndex"`
	FirstSeen string
	LastSeen  string
	Status    string
	UserAgent string
	Locations []byte // Raw JSON array of the device's events
	Extra     []byte // Raw JSON object of unrecognized fields, if any
}

func (deviceRow) TableName() string { return "devices" }

// SQLiteStore keeps the document in two tables. Save still replaces the
// whole document, inside one transaction.
type SQLiteStore struct {
	logger *slog.Logger
	db     *gorm.DB
}

func NewSQLiteStore(logger *slog.Logger, sqlitePath string, migrate bool) (*SQLiteStore, error) {
	logger = logger.With("module", "store", "backend", "sqlite")

	db, err := gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{
		Logger: slogGorm.New(slogGorm.WithLogger(logger)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// Set Pragmas
	err = db.Exec("PRAGMA journal_mode=WAL;").Error
	if err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	err = db.Exec("PRAGMA synchronous=normal;").Error
	if err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if migrate {
		if err := db.AutoMigrate(&eventRow{}, &deviceRow{}); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return &SQLiteStore{logger: logger, db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) *Document {
	db := s.db.WithContext(ctx)

	var events []eventRow
	if err := db.Order("seq ASC").Find(&events).Error; err != nil {
		s.logger.Warn("failed to read events, starting empty", "err", err)
		loadFallbacks.WithLabelValues("sqlite").Inc()
		return NewDocument()
	}

	var devices []deviceRow
	if err := db.Order("seq ASC").Find(&devices).Error; err != nil {
		s.logger.Warn("failed to read devices, starting empty", "err", err)
		loadFallbacks.WithLabelValues("sqlite").Inc()
		return NewDocument()
	}

	doc := NewDocument()
	for _, row := range events {
		ev := &event.Event{}
		if err := json.Unmarshal(row.Raw, ev); err != nil {
			s.logger.Warn("failed to parse stored event, starting empty", "seq", row.Seq, "err", err)
			loadFallbacks.WithLabelValues("sqlite").Inc()
			return NewDocument()
		}
		doc.Locations = append(doc.Locations, ev)
	}

	for _, row := range devices {
		dev := &Device{
			DeviceID:  row.DeviceID,
			FirstSeen: row.FirstSeen,
			LastSeen:  row.LastSeen,
			Status:    row.Status,
			UserAgent: row.UserAgent,
		}
		if err := json.Unmarshal(row.Locations, &dev.Locations); err != nil {
			s.logger.Warn("failed to parse stored device, starting empty", "device_id", row.DeviceID, "err", err)
			loadFallbacks.WithLabelValues("sqlite").Inc()
			return NewDocument()
		}
		if len(row.Extra) > 0 {
			if err := json.Unmarshal(row.Extra, &dev.Extra); err != nil {
				s.logger.Warn("failed to parse stored device fields, starting empty", "device_id", row.DeviceID, "err", err)
				loadFallbacks.WithLabelValues("sqlite").Inc()
				return NewDocument()
			}
		}
		doc.Devices = append(doc.Devices, dev)
	}

	return doc.normalize()
}

func (s *SQLiteStore) Save(ctx context.Context, doc *Document) error {
	start := time.Now()
	defer func() {
		saveDuration.WithLabelValues("sqlite").Observe(time.Since(start).Seconds())
	}()

	doc = doc.normalize()

	events := make([]*eventRow, 0, len(doc.Locations))
	for _, ev := range doc.Locations {
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		events = append(events, &eventRow{
			EventID:  ev.ID,
			DeviceID: ev.DeviceID,
			Type:     ev.Type,
			Raw:      raw,
		})
	}

	devices := make([]*deviceRow, 0, len(doc.Devices))
	for _, dev := range doc.Devices {
		locations, err := json.Marshal(dev.Locations)
		if err != nil {
			return fmt.Errorf("failed to marshal device locations: %w", err)
		}
		var extra []byte
		if len(dev.Extra) > 0 {
			if extra, err = json.Marshal(dev.Extra); err != nil {
				return fmt.Errorf("failed to marshal device fields: %w", err)
			}
		}
		devices = append(devices, &deviceRow{
			DeviceID:  dev.DeviceID,
			FirstSeen: dev.FirstSeen,
			LastSeen:  dev.LastSeen,
			Status:    dev.Status,
			UserAgent: dev.UserAgent,
			Locations: locations,
			Extra:     extra,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM events").Error; err != nil {
			return fmt.Errorf("failed to delete events: %w", err)
		}
		if err := tx.Exec("DELETE FROM devices").Error; err != nil {
			return fmt.Errorf("failed to delete devices: %w", err)
		}
		if len(events) > 0 {
			if err := tx.CreateInBatches(events, 100).Error; err != nil {
				return fmt.Errorf("failed to save events: %w", err)
			}
		}
		if len(devices) > 0 {
			if err := tx.CreateInBatches(devices, 100).Error; err != nil {
				return fmt.Errorf("failed to save devices: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.logger.Info("clearing database")
	return s.Save(ctx, NewDocument())
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
