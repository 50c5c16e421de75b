// Package notify pushes run lifecycle notifications to a Telegram chat.
// The field operator gets a summary (and the first track photo) when an
// analysis finishes, without keeping the dashboard open.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cropsight/internal/pipeline"
)

const defaultAPIBase = "https://api.telegram.org"

var (
	// ErrDisabled is returned when notifications are turned off or the
	// bot credentials are missing.
	ErrDisabled = errors.New("telegram notifications are disabled")

	// ErrCooldown is returned when a message is suppressed because the
	// previous one was sent too recently.
	ErrCooldown = errors.New("notification cooldown has not elapsed")
)

// Config holds the notifier settings. The bot token and chat ID come
// from the environment rather than the config file.
type Config struct {
	BotToken        string
	ChatID          string
	Enabled         bool
	CooldownSeconds int
}

// apiResponse is the envelope every Telegram Bot API call returns
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Notifier sends run notifications through the Telegram Bot API
type Notifier struct {
	botToken string
	chatID   string
	enabled  bool
	apiBase  string
	client   *http.Client

	mu       sync.Mutex
	lastSent map[string]time.Time
	cooldown time.Duration
}

var _ pipeline.RunEventHandler = (*Notifier)(nil)

// New creates a notifier. The notifier counts as enabled only when the
// config says so and both credentials are present.
func New(cfg Config) *Notifier {
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &Notifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 30 * time.Second},
		lastSent: make(map[string]time.Time),
		cooldown: cooldown,
	}
}

// Enabled reports whether notifications will actually be sent
func (n *Notifier) Enabled() bool {
	return n.enabled
}

// OnRunEvent sends a chat notification for terminal run events. Sending
// happens on a separate goroutine so a slow Telegram API never delays
// run finalization.
func (n *Notifier) OnRunEvent(ev *pipeline.RunEvent) {
	if !n.enabled {
		return
	}

	switch ev.Type {
	case pipeline.EventRunCompleted:
		if ev.Result == nil {
			return
		}
		result := *ev.Result
		go n.notifyCompleted(result)
	case pipeline.EventRunFailed:
		videoPath, errMsg := ev.VideoPath, ev.Error
		go n.notifyFailed(videoPath, errMsg)
	}
}

func (n *Notifier) notifyCompleted(result pipeline.RunResult) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var lines []string
	lines = append(lines, "🌱 <b>Flight Analysis Complete</b>", "")
	lines = append(lines, fmt.Sprintf("📁 Run: %s", filepath.Base(result.OutputFolder)))
	lines = append(lines, fmt.Sprintf("🎞 Frames: %d/%d", result.FramesDone, result.TotalFrames))
	lines = append(lines, fmt.Sprintf("🔍 Observations: %d", result.Observations))
	lines = append(lines, fmt.Sprintf("🪴 Plants photographed: %d", result.Photos))
	lines = append(lines, fmt.Sprintf("⏱ Took: %s", result.Elapsed.Round(time.Second)))
	if result.Cancelled {
		lines = append(lines, "", "⚠️ Stopped early by the operator")
	}
	message := strings.Join(lines, "\n")

	// Attach the first track photo when one exists; the summary text
	// alone still goes out if reading it fails
	if photo := n.firstPhoto(result.OutputFolder); photo != nil {
		if err := n.SendPhoto(ctx, photo, message); err != nil {
			log.Printf("[Notify] completion photo failed: %v", err)
		} else {
			return
		}
	}

	if err := n.SendMessage(ctx, message); err != nil {
		log.Printf("[Notify] completion message failed: %v", err)
	}
}

func (n *Notifier) notifyFailed(videoPath, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	message := fmt.Sprintf(
		"🚨 <b>Flight Analysis Failed</b>\n\n📼 Video: %s\n💥 %s",
		videoPath,
		errMsg,
	)
	if err := n.SendMessage(ctx, message); err != nil {
		log.Printf("[Notify] failure message failed: %v", err)
	}
}

// firstPhoto returns the bytes of the alphabetically first track photo
// of a run, or nil when there is none
func (n *Notifier) firstPhoto(runFolder string) []byte {
	photosDir := filepath.Join(runFolder, pipeline.PhotosDirName)
	entries, err := os.ReadDir(photosDir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jpg") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(photosDir, entry.Name()))
		if err != nil {
			log.Printf("[Notify] reading photo %s: %v", entry.Name(), err)
			return nil
		}
		return data
	}
	return nil
}

// SendMessage sends an HTML-formatted text message to the configured chat
func (n *Notifier) SendMessage(ctx context.Context, text string) error {
	if !n.enabled {
		return ErrDisabled
	}
	if !n.cooledDown("message") {
		return ErrCooldown
	}

	payload := map[string]interface{}{
		"chat_id":    n.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.methodURL("sendMessage"), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if err := handleResponse(resp); err != nil {
		return err
	}
	n.markSent("message")
	return nil
}

// SendPhoto sends a photo with an HTML caption as multipart form data
func (n *Notifier) SendPhoto(ctx context.Context, photo []byte, caption string) error {
	if !n.enabled {
		return ErrDisabled
	}
	if !n.cooledDown("photo") {
		return ErrCooldown
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", n.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "track_photo.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	if err := handleResponse(resp); err != nil {
		return err
	}
	n.markSent("photo")
	return nil
}

func (n *Notifier) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", n.apiBase, n.botToken, method)
}

func (n *Notifier) cooledDown(action string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastSent[action]
	return !ok || time.Since(last) >= n.cooldown
}

func (n *Notifier) markSent(action string) {
	n.mu.Lock()
	n.lastSent[action] = time.Now()
	n.mu.Unlock()
}

func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram API error %d: %s", apiResp.ErrorCode, apiResp.Description)
	}
	return nil
}
