package bq

import (
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/ericvolp12/track-relay/pkg/event"
)

type Record struct {
	ReceivedAt time.Time `bigquery:"received_at"`

	ID         string               `bigquery:"id"`
	DeviceID   string               `bigquery:"device_id"`
	Type       string               `bigquery:"type"`
	Category   string               `bigquery:"category"`
	Lat        bigquery.NullFloat64 `bigquery:"lat"`
	Lng        bigquery.NullFloat64 `bigquery:"lng"`
	Accuracy   bigquery.NullFloat64 `bigquery:"accuracy"`
	Altitude   bigquery.NullFloat64 `bigquery:"altitude"`
	Speed      bigquery.NullFloat64 `bigquery:"speed"`
	PhotoBytes int64                `bigquery:"photo_bytes"`
	Raw        bigquery.NullJSON    `bigquery:"raw"`
}

func nullFloat(v *float64) bigquery.NullFloat64 {
	if v == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *v, Valid: true}
}

// NewRecord flattens a stored event into a BigQuery row, leaving the photo
// payload out of Raw.
func NewRecord(ev *event.Event) (*Record, error) {
	sum, err := ev.Summarize()
	if err != nil {
		return nil, err
	}

	return &Record{
		ReceivedAt: sum.ReceivedAt,
		ID:         ev.ID,
		DeviceID:   ev.DeviceID,
		Type:       ev.Type,
		Category:   string(sum.Category),
		Lat:        nullFloat(sum.Lat),
		Lng:        nullFloat(sum.Lng),
		Accuracy:   nullFloat(sum.Accuracy),
		Altitude:   nullFloat(sum.Altitude),
		Speed:      nullFloat(sum.Speed),
		PhotoBytes: sum.PhotoBytes,
		Raw:        bigquery.NullJSON{JSONVal: string(sum.Raw), Valid: true},
	}, nil
}
