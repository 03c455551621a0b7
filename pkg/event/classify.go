package event

import (
	"strings"
)

// Category is the relay bucket an event falls into.
type Category string

const (
	CategoryLocation   Category = "LOCATION"
	CategoryPhoto      Category = "PHOTO"
	CategoryDevice     Category = "DEVICE"
	CategorySuppressed Category = "SUPPRESSED"
	CategoryGeneric    Category = "GENERIC"
)

// Notification is the classified form of an event. Exactly one of the
// concrete types below implements it for any given event.
type Notification interface {
	Category() Category
	DeviceID() string
}

// LocationFix is a location_update event. Fix is nil when the client sent
// no location object.
type LocationFix struct {
	Device    string
	Timestamp string
	Fix       *Location
}

// PhotoCapture is a photo_capture event.
type PhotoCapture struct {
	Device     string
	Timestamp  string
	Resolution string
	Photo      string
}

// DeviceReport is a device_info event.
type DeviceReport struct {
	Device    string
	Timestamp string
	Info      DeviceInfo
}

// Suppressed covers heartbeat and network_info events, which are never relayed.
type Suppressed struct {
	Device string
	Type   string
}

// Unrecognized is any event whose type matches nothing above.
type Unrecognized struct {
	Device    string
	Type      string
	Timestamp string
}

func (LocationFix) Category() Category  { return CategoryLocation }
func (PhotoCapture) Category() Category { return CategoryPhoto }
func (DeviceReport) Category() Category { return CategoryDevice }
func (Suppressed) Category() Category   { return CategorySuppressed }
func (Unrecognized) Category() Category { return CategoryGeneric }

func (n LocationFix) DeviceID() string  { return n.Device }
func (n PhotoCapture) DeviceID() string { return n.Device }
func (n DeviceReport) DeviceID() string { return n.Device }
func (n Suppressed) DeviceID() string   { return n.Device }
func (n Unrecognized) DeviceID() string { return n.Device }

var suppressedTypes = map[string]bool{
	"heartbeat":    true,
	"network_info": true,
}

// CategoryOf applies the classification rule to a raw type tag. Suppressed
// types match exactly; the rest match by case-sensitive substring, in order.
func CategoryOf(typ string) Category {
	switch {
	case suppressedTypes[typ]:
		return CategorySuppressed
	case strings.Contains(typ, "location"):
		return CategoryLocation
	case strings.Contains(typ, "photo"):
		return CategoryPhoto
	case strings.Contains(typ, "device"):
		return CategoryDevice
	default:
		return CategoryGeneric
	}
}

// Classify maps an event onto its Notification variant.
func Classify(e *Event) Notification {
	switch CategoryOf(e.Type) {
	case CategorySuppressed:
		return Suppressed{Device: e.DeviceID, Type: e.Type}
	case CategoryLocation:
		return LocationFix{Device: e.DeviceID, Timestamp: e.Timestamp, Fix: e.Location}
	case CategoryPhoto:
		return PhotoCapture{
			Device:     e.DeviceID,
			Timestamp:  e.Timestamp,
			Resolution: e.Resolution,
			Photo:      e.Photo,
		}
	case CategoryDevice:
		r := DeviceReport{Device: e.DeviceID, Timestamp: e.Timestamp}
		if fp := e.Fingerprint(); fp != nil {
			r.Info = *fp
		}
		if r.Info.UserAgent == "" {
			r.Info.UserAgent = e.UserAgent
		}
		return r
	default:
		return Unrecognized{Device: e.DeviceID, Type: e.Type, Timestamp: e.Timestamp}
	}
}
