package notify_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ericvolp12/track-relay/pkg/notify"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type call struct {
	method string
	chatID string
	text   string
	photo  []byte
}

type fakeBot struct {
	calls    []call
	photoErr error
	textErr  error
}

func (f *fakeBot) SendMessage(ctx context.Context, chatID, text string) error {
	f.calls = append(f.calls, call{method: "sendMessage", chatID: chatID, text: text})
	return f.textErr
}

func (f *fakeBot) SendPhoto(ctx context.Context, chatID string, photo []byte, caption string) error {
	f.calls = append(f.calls, call{method: "sendPhoto", chatID: chatID, text: caption, photo: photo})
	return f.photoErr
}

var configured = notify.Config{BotToken: "123:abc", ChatID: "42"}

func bigPhoto() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 2048)))
}

func TestNotify_NotConfigured(t *testing.T) {
	for _, cfg := range []notify.Config{{}, {BotToken: "t"}, {ChatID: "c"}} {
		bot := &fakeBot{}
		n := notify.New(discard, cfg, bot)

		require.False(t, n.Configured())
		require.False(t, n.Notify(context.Background(), "hello", bigPhoto()))
		require.Empty(t, bot.calls)
	}
}

func TestNotify_Text(t *testing.T) {
	bot := &fakeBot{}
	n := notify.New(discard, configured, bot)

	require.True(t, n.Notify(context.Background(), "hello", ""))
	require.Equal(t, []call{{method: "sendMessage", chatID: "42", text: "hello"}}, bot.calls)
}

func TestNotify_SmallPhotoIsSentAsText(t *testing.T) {
	bot := &fakeBot{}
	n := notify.New(discard, configured, bot)

	require.True(t, n.Notify(context.Background(), "caption", strings.Repeat("A", notify.MinPhotoLength)))
	require.Len(t, bot.calls, 1)
	require.Equal(t, "sendMessage", bot.calls[0].method)
}

func TestNotify_Photo(t *testing.T) {
	bot := &fakeBot{}
	n := notify.New(discard, configured, bot)

	require.True(t, n.Notify(context.Background(), "caption", bigPhoto()))
	require.Len(t, bot.calls, 1)
	require.Equal(t, "sendPhoto", bot.calls[0].method)
	require.Equal(t, "caption", bot.calls[0].text)
	require.Equal(t, []byte(strings.Repeat("x", 2048)), bot.calls[0].photo)
}

func TestNotify_PhotoRejectedFallsBackToText(t *testing.T) {
	bot := &fakeBot{photoErr: &notify.APIError{Method: "sendPhoto", Code: 400, Description: "Bad Request: IMAGE_PROCESS_FAILED"}}
	n := notify.New(discard, configured, bot)

	require.True(t, n.Notify(context.Background(), "caption", bigPhoto()))
	require.Len(t, bot.calls, 2)
	require.Equal(t, "sendPhoto", bot.calls[0].method)
	require.Equal(t, call{method: "sendMessage", chatID: "42", text: "caption"}, bot.calls[1])
}

func TestNotify_FallbackResultWins(t *testing.T) {
	bot := &fakeBot{
		photoErr: errors.New("connection reset"),
		textErr:  &notify.APIError{Method: "sendMessage", Code: 403, Description: "Forbidden"},
	}
	n := notify.New(discard, configured, bot)

	require.False(t, n.Notify(context.Background(), "caption", bigPhoto()))
	require.Len(t, bot.calls, 2)
}

func TestNotify_UndecodablePhotoFallsBackToText(t *testing.T) {
	bot := &fakeBot{}
	n := notify.New(discard, configured, bot)

	require.True(t, n.Notify(context.Background(), "caption", strings.Repeat("!", 2000)))
	require.Len(t, bot.calls, 1)
	require.Equal(t, "sendMessage", bot.calls[0].method)
}

func TestStripDataURL(t *testing.T) {
	require.Equal(t, "QUJD", notify.StripDataURL("data:image/png;base64,QUJD"))
	require.Equal(t, "QUJD", notify.StripDataURL("data:image/svg+xml;base64,QUJD"))
	require.Equal(t, "QUJD", notify.StripDataURL("QUJD"))
}

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func newTelegramServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *recorder) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.mu.Unlock()
		handle(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestTelegramClient_SendMessage(t *testing.T) {
	var mu sync.Mutex
	var got map[string]any
	srv, rec := newTelegramServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": map[string]any{}})
	})

	c := notify.NewTelegramClient(notify.Config{BotToken: "123:abc", APIBase: srv.URL})
	require.NoError(t, c.SendMessage(context.Background(), "42", "<b>hi</b>"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/bot123:abc/sendMessage"}, rec.Paths())
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "<b>hi</b>", got["text"])
	require.Equal(t, "HTML", got["parse_mode"])
}

func TestTelegramClient_SendPhoto(t *testing.T) {
	var mu sync.Mutex
	form := map[string]string{}
	srv, rec := newTelegramServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error_code": 400, "description": err.Error()})
			return
		}
		form["chat_id"] = r.FormValue("chat_id")
		form["caption"] = r.FormValue("caption")
		form["parse_mode"] = r.FormValue("parse_mode")
		if f, _, err := r.FormFile("photo"); err == nil {
			b, _ := io.ReadAll(f)
			form["photo"] = string(b)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	c := notify.NewTelegramClient(notify.Config{BotToken: "t", APIBase: srv.URL})
	require.NoError(t, c.SendPhoto(context.Background(), "42", []byte("jpegbytes"), "caption"))
	require.Equal(t, []string{"/bott/sendPhoto"}, rec.Paths())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, map[string]string{
		"chat_id":    "42",
		"caption":    "caption",
		"parse_mode": "HTML",
		"photo":      "jpegbytes",
	}, form)
}

func TestTelegramClient_Rejected(t *testing.T) {
	srv, _ := newTelegramServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: chat not found",
		})
	})

	c := notify.NewTelegramClient(notify.Config{BotToken: "t", APIBase: srv.URL})
	err := c.SendMessage(context.Background(), "42", "hi")

	var apiErr *notify.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 400, apiErr.Code)
	require.Equal(t, "Bad Request: chat not found", apiErr.Description)
}

func TestTelegramClient_MalformedResponse(t *testing.T) {
	srv, _ := newTelegramServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	c := notify.NewTelegramClient(notify.Config{BotToken: "t", APIBase: srv.URL})
	err := c.SendMessage(context.Background(), "42", "hi")

	require.Error(t, err)
	var apiErr *notify.APIError
	require.False(t, errors.As(err, &apiErr))
}

func TestNotify_EndToEndFallback(t *testing.T) {
	srv, rec := newTelegramServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendPhoto") {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: IMAGE_PROCESS_FAILED"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	cfg := notify.Config{BotToken: "t", ChatID: "42", APIBase: srv.URL}
	n := notify.New(discard, cfg, nil)

	require.True(t, n.Notify(context.Background(), "caption", bigPhoto()))
	require.Equal(t, []string{"/bott/sendPhoto", "/bott/sendMessage"}, rec.Paths())
}
