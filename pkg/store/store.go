// Package store persists the relay's document: the chronological event log
// plus one summary record per device.
//
// Every backend rewrites the whole document on Save and takes no lock
// between Load and Save, so two overlapping ingests can lose one update.
package store

import (
	"context"
	"encoding/json"

	"github.com/ericvolp12/track-relay/pkg/event"
)

// StatusOnline is the only status a device record ever carries.
const StatusOnline = "online"

// Store loads and saves the full document.
type Store interface {
	// Load never fails; a missing or unreadable backing yields an empty document.
	Load(ctx context.Context) *Document
	Save(ctx context.Context, doc *Document) error
	Clear(ctx context.Context) error
}

// Device aggregates the event stream of one device id.
type Device struct {
	DeviceID  string         `json:"deviceId"`
	FirstSeen string         `json:"firstSeen"`
	LastSeen  string         `json:"lastSeen"`
	Locations []*event.Event `json:"locations"`
	Status    string         `json:"status"`
	UserAgent string         `json:"userAgent,omitempty"`

	// Extra holds fields this server doesn't know or can't read as the
	// expected type, written back as they were loaded.
	Extra map[string]json.RawMessage `json:"-"`
}

type deviceAlias Device

func (d *Device) UnmarshalJSON(b []byte) error {
	f, err := event.ParseFields(b)
	if err != nil {
		return err
	}

	var dev Device
	f.String("deviceId", &dev.DeviceID)
	f.String("firstSeen", &dev.FirstSeen)
	f.String("lastSeen", &dev.LastSeen)
	event.Field(f, "locations", &dev.Locations)
	f.String("status", &dev.Status)
	f.String("userAgent", &dev.UserAgent)
	dev.Extra = f.Rest()

	*d = dev
	return nil
}

func (d Device) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(deviceAlias(d))
	if err != nil {
		return nil, err
	}
	return event.MergeExtra(known, d.Extra)
}

// Document is the root persisted object.
type Document struct {
	Locations []*event.Event `json:"locations"`
	Devices   []*Device      `json:"devices"`
}

// NewDocument returns the empty document.
func NewDocument() *Document {
	return &Document{
		Locations: []*event.Event{},
		Devices:   []*Device{},
	}
}

// Device returns the record for id, or nil.
func (d *Document) Device(id string) *Device {
	for _, dev := range d.Devices {
		if dev.DeviceID == id {
			return dev
		}
	}
	return nil
}

// Record appends ev to the log and upserts its device record. ev must
// already be stamped.
func (d *Document) Record(ev *event.Event) {
	d.Locations = append(d.Locations, ev)

	dev := d.Device(ev.DeviceID)
	if dev == nil {
		d.Devices = append(d.Devices, &Device{
			DeviceID:  ev.DeviceID,
			FirstSeen: ev.Timestamp,
			LastSeen:  ev.Timestamp,
			Locations: []*event.Event{ev},
			Status:    StatusOnline,
			UserAgent: ev.LastUserAgent(),
		})
		return
	}

	dev.LastSeen = ev.Timestamp
	dev.Locations = append(dev.Locations, ev)
	delete(dev.Extra, "lastSeen")
	delete(dev.Extra, "locations")
	if ua := ev.LastUserAgent(); ua != "" {
		dev.UserAgent = ua
		delete(dev.Extra, "userAgent")
	}
}

// normalize replaces nil slices so the document always serializes with arrays.
func (d *Document) normalize() *Document {
	if d.Locations == nil {
		d.Locations = []*event.Event{}
	}
	if d.Devices == nil {
		d.Devices = []*Device{}
	}
	for _, dev := range d.Devices {
		if dev.Locations == nil {
			dev.Locations = []*event.Event{}
		}
	}
	return d
}
