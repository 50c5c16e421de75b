package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cropsight/internal/pipeline"
)

type recordedCall struct {
	path  string
	json  map[string]interface{}
	form  map[string]string
	photo []byte
}

func recordingAPI(calls chan recordedCall, respond string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		call := recordedCall{path: r.URL.Path}

		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, &call.json)
		} else if err := r.ParseMultipartForm(1 << 20); err == nil {
			call.form = make(map[string]string)
			for key, values := range r.MultipartForm.Value {
				call.form[key] = values[0]
			}
			if files := r.MultipartForm.File["photo"]; len(files) > 0 {
				f, err := files[0].Open()
				if err == nil {
					call.photo, _ = io.ReadAll(f)
					f.Close()
				}
			}
		}

		calls <- call
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, respond)
	}
}

func newTestNotifier(t *testing.T, handler http.Handler) *Notifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	n := New(Config{BotToken: "TEST-TOKEN", ChatID: "42", Enabled: true, CooldownSeconds: 300})
	n.apiBase = srv.URL
	return n
}

func waitCall(t *testing.T, calls chan recordedCall) recordedCall {
	t.Helper()
	select {
	case call := <-calls:
		return call
	case <-time.After(3 * time.Second):
		t.Fatal("no API call arrived")
		return recordedCall{}
	}
}

func TestSendMessage(t *testing.T) {
	calls := make(chan recordedCall, 4)
	n := newTestNotifier(t, recordingAPI(calls, `{"ok":true}`))

	require.NoError(t, n.SendMessage(context.Background(), "hello <b>field</b>"))

	call := waitCall(t, calls)
	assert.Equal(t, "/botTEST-TOKEN/sendMessage", call.path)
	assert.Equal(t, "42", call.json["chat_id"])
	assert.Equal(t, "hello <b>field</b>", call.json["text"])
	assert.Equal(t, "HTML", call.json["parse_mode"])
}

func TestSendPhoto(t *testing.T) {
	calls := make(chan recordedCall, 4)
	n := newTestNotifier(t, recordingAPI(calls, `{"ok":true}`))

	require.NoError(t, n.SendPhoto(context.Background(), []byte("jpg-bytes"), "a caption"))

	call := waitCall(t, calls)
	assert.Equal(t, "/botTEST-TOKEN/sendPhoto", call.path)
	assert.Equal(t, "42", call.form["chat_id"])
	assert.Equal(t, "a caption", call.form["caption"])
	assert.Equal(t, "HTML", call.form["parse_mode"])
	assert.Equal(t, []byte("jpg-bytes"), call.photo)
}

func TestAPIErrorSurfaced(t *testing.T) {
	calls := make(chan recordedCall, 4)
	n := newTestNotifier(t, recordingAPI(calls, `{"ok":false,"error_code":429,"description":"Too Many Requests"}`))

	err := n.SendMessage(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "Too Many Requests")
}

func TestDisabledWithoutCredentials(t *testing.T) {
	n := New(Config{Enabled: true})
	assert.False(t, n.Enabled())
	assert.ErrorIs(t, n.SendMessage(context.Background(), "hello"), ErrDisabled)

	n = New(Config{BotToken: "t", ChatID: "c", Enabled: false})
	assert.False(t, n.Enabled())
	assert.ErrorIs(t, n.SendPhoto(context.Background(), nil, ""), ErrDisabled)
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	calls := make(chan recordedCall, 4)
	n := newTestNotifier(t, recordingAPI(calls, `{"ok":true}`))

	require.NoError(t, n.SendMessage(context.Background(), "first"))
	waitCall(t, calls)

	assert.ErrorIs(t, n.SendMessage(context.Background(), "second"), ErrCooldown)

	// Photos track their own cooldown
	require.NoError(t, n.SendPhoto(context.Background(), []byte("p"), ""))
	waitCall(t, calls)

	// Once the window passes, messages flow again
	n.mu.Lock()
	n.lastSent["message"] = time.Now().Add(-10 * time.Minute)
	n.mu.Unlock()
	require.NoError(t, n.SendMessage(context.Background(), "third"))
	waitCall(t, calls)
}

func seedNotifyRun(t *testing.T, withPhoto bool) string {
	t.Helper()
	folder := filepath.Join(t.TempDir(), "run_20260823_120000")
	require.NoError(t, os.MkdirAll(filepath.Join(folder, pipeline.PhotosDirName), 0o755))
	if withPhoto {
		photo := filepath.Join(folder, pipeline.PhotosDirName, "Healthy_ID1.jpg")
		require.NoError(t, os.WriteFile(photo, []byte("jpg-bytes"), 0o644))
	}
	return folder
}

func completedEvent(folder string) *pipeline.RunEvent {
	return &pipeline.RunEvent{
		Type:         pipeline.EventRunCompleted,
		RunID:        "r1",
		OutputFolder: folder,
		Result: &pipeline.RunResult{
			RunID:        "r1",
			OutputFolder: folder,
			Stage:        pipeline.StageDone,
			TotalFrames:  600,
			FramesDone:   600,
			Observations: 240,
			Photos:       12,
			Elapsed:      90 * time.Second,
		},
		Timestamp: time.Now(),
	}
}

func TestOnRunEventCompletedSendsPhoto(t *testing.T) {
	calls := make(chan recordedCall, 4)
	n := newTestNotifier(t, recordingAPI(calls, `{"ok":true}`))
	folder := seedNotifyRun(t, true)

	n.OnRunEvent(completedEvent(folder))

	call := waitCall(t, calls)
	assert.Equal(t, "/botTEST-TOKEN/sendPhoto", call.path)
	assert.Equal(t, []byte("jpg-bytes"), call.photo)

	caption := call.form["caption"]
	assert.Contains(t, caption, "Flight Analysis Complete")
	assert.Contains(t, caption, "600/600")
	assert.Contains(t, caption, "Observations: 240")
	assert.Contains(t, caption, "photographed: 12")
	assert.Contains(t, caption, filepath.Base(folder))
}

func TestOnRunEventCompletedWithoutPhotoFallsBack(t *testing.T) {
	calls := make(chan recordedCall, 4)
	n := newTestNotifier(t, recordingAPI(calls, `{"ok":true}`))
	folder := seedNotifyRun(t, false)

	ev := completedEvent(folder)
	ev.Result.Cancelled = true
	n.OnRunEvent(ev)

	call := waitCall(t, calls)
	assert.Equal(t, "/botTEST-TOKEN/sendMessage", call.path)

	text, _ := call.json["text"].(string)
	assert.Contains(t, text, "Flight Analysis Complete")
	assert.Contains(t, text, "Stopped early")
}

func TestOnRunEventFailed(t *testing.T) {
	calls := make(chan recordedCall, 4)
	n := newTestNotifier(t, recordingAPI(calls, `{"ok":true}`))

	n.OnRunEvent(&pipeline.RunEvent{
		Type:      pipeline.EventRunFailed,
		RunID:     "r1",
		VideoPath: "/videos/field7.mp4",
		Stage:     pipeline.StageStreaming,
		Error:     "detector failure: model crashed",
		Timestamp: time.Now(),
	})

	call := waitCall(t, calls)
	assert.Equal(t, "/botTEST-TOKEN/sendMessage", call.path)

	text, _ := call.json["text"].(string)
	assert.Contains(t, text, "Flight Analysis Failed")
	assert.Contains(t, text, "/videos/field7.mp4")
	assert.Contains(t, text, "model crashed")
}

func TestOnRunEventIgnoresNonTerminalEvents(t *testing.T) {
	calls := make(chan recordedCall, 4)
	n := newTestNotifier(t, recordingAPI(calls, `{"ok":true}`))

	n.OnRunEvent(&pipeline.RunEvent{Type: pipeline.EventRunProgress, RunID: "r1"})
	n.OnRunEvent(&pipeline.RunEvent{Type: pipeline.EventFrameAnnotated, RunID: "r1"})

	select {
	case call := <-calls:
		t.Fatalf("unexpected API call: %s", call.path)
	case <-time.After(100 * time.Millisecond):
	}
}
