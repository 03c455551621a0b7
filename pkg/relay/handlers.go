package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"time"

	"github.com/ericvolp12/track-relay/pkg/event"
	"github.com/labstack/echo/v4"
)

type TrackResponse struct {
	Status   string `json:"status"`
	Received bool   `json:"received"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Telegram  string `json:"telegram"`
	Timestamp string `json:"timestamp"`
}

// RegisterRoutes mounts the ingestion and admin endpoints on e.
func (r *Relay) RegisterRoutes(e *echo.Echo) {
	e.POST("/track", r.HandleTrack)
	e.GET("/api/data", r.HandleGetData)
	e.DELETE("/api/clear", r.HandleClear)
	e.GET("/api/live", r.HandleLive)
	e.GET("/health", r.HandleHealth)
	e.GET("/test-telegram", r.HandleTestTelegram)
	e.GET("/test-telegram-photo", r.HandleTestTelegramPhoto)
}

// HandleTrack handles the POST /track endpoint
func (r *Relay) HandleTrack(c echo.Context) error {
	ev := &event.Event{}
	if err := json.NewDecoder(c.Request().Body).Decode(ev); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
	}

	// The relay phase outlives a client that hangs up early.
	ctx := context.WithoutCancel(c.Request().Context())

	if err := r.Ingest(ctx, ev); err != nil {
		r.logger.Error("failed to ingest event", "device_id", ev.DeviceID, "err", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store event"})
	}

	return c.JSON(http.StatusOK, TrackResponse{Status: "success", Received: true})
}

// HandleGetData handles the GET /api/data endpoint
func (r *Relay) HandleGetData(c echo.Context) error {
	return c.JSON(http.StatusOK, r.Data(c.Request().Context()))
}

// HandleClear handles the DELETE /api/clear endpoint
func (r *Relay) HandleClear(c echo.Context) error {
	if err := r.Clear(c.Request().Context()); err != nil {
		r.logger.Error("failed to clear database", "err", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to clear database"})
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "cleared"})
}

// HandleHealth handles the GET /health endpoint
func (r *Relay) HandleHealth(c echo.Context) error {
	telegram := "not_configured"
	if r.notifier.Configured() {
		telegram = "configured"
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "online",
		Telegram:  telegram,
		Timestamp: r.now().UTC().Format(event.TimestampLayout),
	})
}

// HandleTestTelegram handles the GET /test-telegram endpoint
func (r *Relay) HandleTestTelegram(c echo.Context) error {
	now := r.now().UTC().Format(event.TimestampLayout)
	msg := fmt.Sprintf("🧪 <b>Teste de Notificação</b>\n\n✅ O bot está funcionando.\n🕐 <b>Horário:</b> %s", r.formatter.LocalTime(now))
	return r.testNotify(c, msg, "")
}

// HandleTestTelegramPhoto handles the GET /test-telegram-photo endpoint
func (r *Relay) HandleTestTelegramPhoto(c echo.Context) error {
	photo, err := TestPhoto()
	if err != nil {
		r.logger.Error("failed to generate test photo", "err", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to generate test photo"})
	}

	now := r.now().UTC().Format(event.TimestampLayout)
	msg := fmt.Sprintf("🧪 <b>Teste de Foto</b>\n\n🕐 <b>Horário:</b> %s", r.formatter.LocalTime(now))
	return r.testNotify(c, msg, photo)
}

func (r *Relay) testNotify(c echo.Context, msg, photo string) error {
	if !r.notifier.Notify(c.Request().Context(), msg, photo) {
		return c.JSON(http.StatusOK, StatusResponse{Status: "failed"})
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "sent"})
}

// TestPhoto returns a noise PNG as a data URL, large enough to pass the
// notifier's photo size guard.
func TestPhoto() (string, error) {
	const size = 64
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(x * 4), B: uint8(y * 4), A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode test photo: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
