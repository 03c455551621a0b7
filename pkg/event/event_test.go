package event_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ericvolp12/track-relay/pkg/event"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestCategoryOf(t *testing.T) {
	cases := map[string]event.Category{
		"location_update": event.CategoryLocation,
		"gps_location":    event.CategoryLocation,
		"photo_capture":   event.CategoryPhoto,
		"device_info":     event.CategoryDevice,
		"heartbeat":       event.CategorySuppressed,
		"network_info":    event.CategorySuppressed,
		"Location_Update": event.CategoryGeneric,
		"":                event.CategoryGeneric,
		"custom":          event.CategoryGeneric,
	}
	for typ, want := range cases {
		require.Equal(t, want, event.CategoryOf(typ), "type %q", typ)
	}
}

func TestFormat_LocationScenario(t *testing.T) {
	ev := &event.Event{
		DeviceID:  "dev1",
		Type:      "location_update",
		Timestamp: "2024-03-01T15:04:05.000Z",
		Location:  &event.Location{Lat: -23.55, Lng: -46.63, Accuracy: ptr(12.3)},
	}

	n := event.Classify(ev)
	require.Equal(t, event.CategoryLocation, n.Category())

	msg, ok := event.NewFormatter(time.UTC).Format(n)
	require.True(t, ok)
	require.Contains(t, msg, "-23.550000,-46.630000")
	require.Contains(t, msg, "12.30m")
	require.Contains(t, msg, "https://maps.google.com/?q=-23.55,-46.63")
	require.Contains(t, msg, "01/03/2024 15:04:05")
	// altitude and speed were not sent
	require.Equal(t, 2, strings.Count(msg, "N/A"))
}

func TestFormat_SpeedIsConvertedToKmh(t *testing.T) {
	ev := &event.Event{
		DeviceID: "dev1",
		Type:     "location_update",
		Location: &event.Location{Lat: 1, Lng: 2, Speed: ptr(10), Altitude: ptr(760.456)},
	}
	msg, ok := event.NewFormatter(nil).Format(event.Classify(ev))
	require.True(t, ok)
	require.Contains(t, msg, "36.0 km/h")
	require.Contains(t, msg, "760.46m")
}

func TestMapURL_UsesUnroundedCoordinates(t *testing.T) {
	require.Equal(t, "https://maps.google.com/?q=-23.5505199,-46.6333094", event.MapURL(-23.5505199, -46.6333094))
}

func TestFormat_MissingOptionalFields(t *testing.T) {
	f := event.NewFormatter(time.UTC)
	for _, typ := range []string{"location_update", "photo_capture", "device_info", "something_else"} {
		msg, ok := f.Format(event.Classify(&event.Event{Type: typ}))
		require.True(t, ok, typ)
		require.Contains(t, msg, "N/A", typ)
	}

	msg, _ := f.Format(event.Classify(&event.Event{DeviceID: "d", Type: "location_update"}))
	require.NotContains(t, msg, "maps.google.com")

	msg, _ = f.Format(event.Classify(&event.Event{DeviceID: "d", Type: "photo_capture"}))
	require.Contains(t, msg, "Alta Qualidade")
	require.Contains(t, msg, "<b>Tamanho:</b> N/A")
}

func TestFormat_Suppressed(t *testing.T) {
	f := event.NewFormatter(time.UTC)
	for _, typ := range []string{"heartbeat", "network_info"} {
		n := event.Classify(&event.Event{DeviceID: "d", Type: typ})
		require.Equal(t, event.CategorySuppressed, n.Category())
		_, ok := f.Format(n)
		require.False(t, ok)
	}
}

func TestFormat_Photo(t *testing.T) {
	photo := strings.Repeat("A", 4096)
	msg, ok := event.NewFormatter(time.UTC).Format(event.Classify(&event.Event{
		DeviceID:   "cam",
		Type:       "photo_capture",
		Resolution: "1920x1080",
		Photo:      photo,
	}))
	require.True(t, ok)
	require.Contains(t, msg, "1920x1080")
	require.Contains(t, msg, "4 KB")
}

func TestFormat_Device(t *testing.T) {
	ev := &event.Event{
		DeviceID: "dev<1>",
		Type:     "device_info",
		DeviceInfo: &event.DeviceInfo{
			Platform:  "Linux x86_64",
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0 Safari/537.36",
			Timezone:  "America/Sao_Paulo",
		},
	}
	msg, ok := event.NewFormatter(time.UTC).Format(event.Classify(ev))
	require.True(t, ok)
	require.Contains(t, msg, "Chrome/120.0 Safari/537.36")
	require.NotContains(t, msg, "Mozilla")
	require.Contains(t, msg, "<b>Tela:</b> N/A")
	require.Contains(t, msg, "dev&lt;1&gt;")
}

func TestTruncateUserAgent(t *testing.T) {
	require.Equal(t, "", event.TruncateUserAgent(""))
	require.Equal(t, "curl/8.0", event.TruncateUserAgent("curl/8.0"))
	require.Equal(t, "b c", event.TruncateUserAgent("a b c"))
}

func TestLocalTime_Unparsable(t *testing.T) {
	f := event.NewFormatter(time.UTC)
	require.Equal(t, "yesterday-ish", f.LocalTime("yesterday-ish"))
	require.Equal(t, "N/A", f.LocalTime(""))
}

func TestEvent_PreservesUnknownFields(t *testing.T) {
	in := `{"deviceId":"d1","type":"network_info","connection":{"effectiveType":"4g"},"battery":0.5}`

	var ev event.Event
	require.NoError(t, json.Unmarshal([]byte(in), &ev))
	require.Equal(t, "d1", ev.DeviceID)
	require.Len(t, ev.Extra, 2)

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	require.JSONEq(t, in, string(out))
}

func TestEvent_Stamp(t *testing.T) {
	var a, b event.Event
	now := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.FixedZone("BRT", -3*3600))
	a.Stamp(now)
	b.Stamp(now)

	require.Equal(t, "2024-01-02T06:04:05.006Z", a.Timestamp)
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
}

func TestEvent_MistypedFieldsAreKept(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		check func(t *testing.T, ev *event.Event)
	}{
		{
			name: "numeric device id",
			in:   `{"deviceId":42,"type":"heartbeat"}`,
			check: func(t *testing.T, ev *event.Event) {
				require.Equal(t, "42", ev.DeviceID)
			},
		},
		{
			name: "object screen",
			in:   `{"deviceId":"d","type":"device_info","info":{"platform":"Linux","screen":{"width":1920,"height":1080}}}`,
			check: func(t *testing.T, ev *event.Event) {
				require.NotNil(t, ev.Info)
				require.Equal(t, "Linux", ev.Info.Platform)
				require.Empty(t, ev.Info.Screen)
			},
		},
		{
			name: "string lat",
			in:   `{"deviceId":"d","type":"location_update","location":{"lat":"-23.55","lng":-46.63}}`,
			check: func(t *testing.T, ev *event.Event) {
				require.NotNil(t, ev.Location)
				require.Equal(t, -23.55, ev.Location.Lat)
				require.Equal(t, -46.63, ev.Location.Lng)
			},
		},
		{
			name: "location without coordinates",
			in:   `{"deviceId":"d","type":"location_update","location":"somewhere"}`,
			check: func(t *testing.T, ev *event.Event) {
				require.Nil(t, ev.Location)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ev event.Event
			require.NoError(t, json.Unmarshal([]byte(tc.in), &ev))
			tc.check(t, &ev)

			out, err := json.Marshal(ev)
			require.NoError(t, err)
			require.JSONEq(t, tc.in, string(out))
		})
	}
}

func TestEvent_RejectsNonObjects(t *testing.T) {
	for _, in := range []string{`[]`, `"heartbeat"`, `42`, `{"deviceId":`} {
		var ev event.Event
		require.Error(t, json.Unmarshal([]byte(in), &ev), in)
	}
}

func TestFormat_ObjectScreenFallsBack(t *testing.T) {
	var ev event.Event
	require.NoError(t, json.Unmarshal([]byte(`{"deviceId":"d","type":"device_info","info":{"platform":"Linux","screen":{"width":1920}}}`), &ev))

	msg, ok := event.NewFormatter(time.UTC).Format(event.Classify(&ev))
	require.True(t, ok)
	require.Contains(t, msg, "Linux")
	require.Contains(t, msg, "<b>Tela:</b> N/A")
}

func TestEvent_StampReplacesClientID(t *testing.T) {
	var ev event.Event
	require.NoError(t, json.Unmarshal([]byte(`{"id":7,"timestamp":0,"deviceId":"d","type":"custom"}`), &ev))
	ev.Stamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	out, err := json.Marshal(ev)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, ev.ID, got["id"])
	require.Equal(t, "2024-01-01T00:00:00.000Z", got["timestamp"])
}

func TestEvent_WithoutPhoto(t *testing.T) {
	var ev event.Event
	require.NoError(t, json.Unmarshal([]byte(`{"deviceId":"d","type":"photo_capture","photo":123,"battery":1}`), &ev))

	stripped := ev.WithoutPhoto()
	require.Empty(t, stripped.Photo)
	require.NotContains(t, stripped.Extra, "photo")
	require.Contains(t, stripped.Extra, "battery")

	require.Equal(t, "123", ev.Photo)
	require.Contains(t, ev.Extra, "photo")
}

func TestEvent_Summarize(t *testing.T) {
	ev := &event.Event{
		DeviceID: "d",
		Type:     "location_update",
		Location: &event.Location{Lat: 1, Lng: 2, Speed: ptr(3)},
		Photo:    "AAAA",
	}
	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	ev.Stamp(at)

	sum, err := ev.Summarize()
	require.NoError(t, err)
	require.True(t, sum.ReceivedAt.Equal(at))
	require.Equal(t, event.CategoryLocation, sum.Category)
	require.Equal(t, 1.0, *sum.Lat)
	require.Equal(t, 3.0, *sum.Speed)
	require.Nil(t, sum.Accuracy)
	require.Equal(t, int64(4), sum.PhotoBytes)
	require.NotContains(t, string(sum.Raw), "AAAA")

	sum, err = (&event.Event{DeviceID: "d", Type: "heartbeat"}).Summarize()
	require.NoError(t, err)
	require.True(t, sum.ReceivedAt.IsZero())
	require.Nil(t, sum.Lat)
}
