package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Location is a single geolocation fix reported by a device.
type Location struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Altitude *float64 `json:"altitude,omitempty"`
	Speed    *float64 `json:"speed,omitempty"` // m/s

	Extra map[string]json.RawMessage `json:"-"`
}

// DeviceInfo is the browser/device fingerprint sent with device_info events.
type DeviceInfo struct {
	Platform  string `json:"platform,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Screen    string `json:"screen,omitempty"`
	Timezone  string `json:"timezone,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Event is one telemetry payload posted by a client. Fields the server
// doesn't know about, or can't read as the expected type, are kept in Extra
// and written back untouched.
type Event struct {
	ID         string      `json:"id,omitempty"`
	DeviceID   string      `json:"deviceId"`
	Type       string      `json:"type"`
	Timestamp  string      `json:"timestamp,omitempty"`
	Location   *Location   `json:"location,omitempty"`
	Photo      string      `json:"photo,omitempty"`
	Resolution string      `json:"resolution,omitempty"`
	Info       *DeviceInfo `json:"info,omitempty"`
	DeviceInfo *DeviceInfo `json:"deviceInfo,omitempty"`
	UserAgent  string      `json:"userAgent,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// TimestampLayout is the layout of server-assigned timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Stamp assigns the server timestamp and a fresh id.
func (e *Event) Stamp(now time.Time) {
	e.Timestamp = now.UTC().Format(TimestampLayout)
	e.ID = uuid.NewString()
	delete(e.Extra, "timestamp")
	delete(e.Extra, "id")
}

// Fingerprint returns whichever device info block the client sent, preferring info.
func (e *Event) Fingerprint() *DeviceInfo {
	if e.Info != nil {
		return e.Info
	}
	return e.DeviceInfo
}

// LastUserAgent returns the user agent carried by the event, if any.
func (e *Event) LastUserAgent() string {
	if fp := e.Fingerprint(); fp != nil && fp.UserAgent != "" {
		return fp.UserAgent
	}
	return e.UserAgent
}

// WithoutPhoto returns a shallow copy of e with the photo payload removed.
func (e *Event) WithoutPhoto() *Event {
	c := *e
	c.Photo = ""
	if _, ok := c.Extra["photo"]; ok {
		c.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for k, v := range e.Extra {
			if k != "photo" {
				c.Extra[k] = v
			}
		}
	}
	return &c
}

// Each codec goes through an alias type so the default codec can be used
// without recursing into the custom one.
type (
	eventAlias      Event
	locationAlias   Location
	deviceInfoAlias DeviceInfo
)

// UnmarshalJSON only fails when b is not a JSON object.
func (e *Event) UnmarshalJSON(b []byte) error {
	f, err := ParseFields(b)
	if err != nil {
		return err
	}

	var ev Event
	f.String("id", &ev.ID)
	f.String("deviceId", &ev.DeviceID)
	f.String("type", &ev.Type)
	f.String("timestamp", &ev.Timestamp)
	Field(f, "location", &ev.Location)
	f.String("photo", &ev.Photo)
	f.String("resolution", &ev.Resolution)
	Field(f, "info", &ev.Info)
	Field(f, "deviceInfo", &ev.DeviceInfo)
	f.String("userAgent", &ev.UserAgent)
	ev.Extra = f.Rest()

	*e = ev
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(eventAlias(e))
	if err != nil {
		return nil, err
	}
	return MergeExtra(known, e.Extra)
}

var errLocationCoords = errors.New("location needs numeric lat and lng")

// UnmarshalJSON rejects a location without numeric lat and lng, which keeps
// the whole object in the event's Extra instead.
func (l *Location) UnmarshalJSON(b []byte) error {
	f, err := ParseFields(b)
	if err != nil {
		return err
	}

	lat, lng := f.Float("lat"), f.Float("lng")
	if lat == nil || lng == nil {
		return errLocationCoords
	}

	*l = Location{
		Lat:      *lat,
		Lng:      *lng,
		Accuracy: f.Float("accuracy"),
		Altitude: f.Float("altitude"),
		Speed:    f.Float("speed"),
		Extra:    f.Rest(),
	}
	return nil
}

func (l Location) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(locationAlias(l))
	if err != nil {
		return nil, err
	}
	return MergeExtra(known, l.Extra)
}

func (d *DeviceInfo) UnmarshalJSON(b []byte) error {
	f, err := ParseFields(b)
	if err != nil {
		return err
	}

	var info DeviceInfo
	f.String("platform", &info.Platform)
	f.String("userAgent", &info.UserAgent)
	f.String("screen", &info.Screen)
	f.String("timezone", &info.Timezone)
	info.Extra = f.Rest()

	*d = info
	return nil
}

func (d DeviceInfo) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(deviceInfoAlias(d))
	if err != nil {
		return nil, err
	}
	return MergeExtra(known, d.Extra)
}

// Summary is the flat view of a stored event kept by the archive sinks.
type Summary struct {
	ReceivedAt time.Time
	Category   Category

	Lat      *float64
	Lng      *float64
	Accuracy *float64
	Altitude *float64
	Speed    *float64

	PhotoBytes int64
	// Raw is the event as JSON, without the photo payload.
	Raw []byte
}

// Summarize flattens e. ReceivedAt is zero when the timestamp doesn't parse.
func (e *Event) Summarize() (*Summary, error) {
	s := &Summary{
		Category:   CategoryOf(e.Type),
		PhotoBytes: int64(len(e.Photo)),
	}

	if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		s.ReceivedAt = t
	}

	if loc := e.Location; loc != nil {
		lat, lng := loc.Lat, loc.Lng
		s.Lat, s.Lng = &lat, &lng
		s.Accuracy, s.Altitude, s.Speed = loc.Accuracy, loc.Altitude, loc.Speed
	}

	raw, err := json.Marshal(e.WithoutPhoto())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	s.Raw = raw

	return s, nil
}
