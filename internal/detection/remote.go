package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"cropsight/internal/pipeline"
)

// DefaultConfThreshold is sent to the model service when the config does
// not override it
const DefaultConfThreshold = 0.25

// healthCacheTTL bounds how often the health endpoint is probed
const healthCacheTTL = 30 * time.Second

// RemoteDetector talks to the external detection and tracking model
// service over HTTP. One multipart POST carries a whole frame batch; the
// service answers with one detection list per frame, in batch order, with
// track ids assigned by its internal tracker.
type RemoteDetector struct {
	endpoint      string
	confThreshold float32
	jpegQuality   int
	client        *http.Client

	mu          sync.Mutex
	healthy     bool
	healthCheck time.Time
}

var _ pipeline.DetectorTracker = (*RemoteDetector)(nil)

// NewRemoteDetector creates a client for the model service at endpoint
// (e.g. http://localhost:8500)
func NewRemoteDetector(endpoint string, confThreshold float32) *RemoteDetector {
	if confThreshold <= 0 {
		confThreshold = DefaultConfThreshold
	}
	return &RemoteDetector{
		endpoint:      endpoint,
		confThreshold: confThreshold,
		jpegQuality:   90,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name identifies the backend in config and logs
func (d *RemoteDetector) Name() string {
	return "remote"
}

// IsHealthy probes the service's health endpoint, caching a positive
// answer for 30 seconds
func (d *RemoteDetector) IsHealthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.healthy && time.Since(d.healthCheck) < healthCacheTTL {
		return true
	}

	resp, err := d.client.Get(d.endpoint + "/health")
	if err != nil {
		log.Printf("[RemoteDetector] health check failed: %v", err)
		d.healthy = false
		return false
	}
	defer resp.Body.Close()

	d.healthy = resp.StatusCode == http.StatusOK
	if d.healthy {
		d.healthCheck = time.Now()
	}
	return d.healthy
}

// wireDetection is the service's per-object response entry. A null
// track_id means the tracker could not associate the object with an
// identity on this frame.
type wireDetection struct {
	Class      string     `json:"class"`
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"`
	TrackID    *int       `json:"track_id"`
}

func (w wireDetection) toDetection() pipeline.Detection {
	return pipeline.Detection{
		Class:      w.Class,
		Confidence: w.Confidence,
		BBox: pipeline.BBox{
			XMin: w.BBox[0],
			YMin: w.BBox[1],
			XMax: w.BBox[2],
			YMax: w.BBox[3],
		},
		TrackID: w.TrackID,
	}
}

// DetectAndTrack posts one batch of frames to /track/batch and decodes
// the per-frame detection lists
func (d *RemoteDetector) DetectAndTrack(ctx context.Context, frames []*pipeline.Frame) ([][]pipeline.Detection, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for i, frame := range frames {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="frame_%d"; filename="frame_%d.jpg"`, i, i))
		header.Set("Content-Type", "image/jpeg")

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create form part: %w", err)
		}
		if err := jpeg.Encode(part, frame.Image, &jpeg.Options{Quality: d.jpegQuality}); err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", frame.Index, err)
		}
	}

	if err := writer.WriteField("conf_threshold", fmt.Sprintf("%.2f", d.confThreshold)); err != nil {
		return nil, fmt.Errorf("failed to write threshold field: %w", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/track/batch", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		d.mu.Lock()
		d.healthy = false
		d.mu.Unlock()
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detection service returned %d: %s", resp.StatusCode, msg)
	}

	var wire [][]wireDetection
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}
	if len(wire) != len(frames) {
		return nil, fmt.Errorf("got %d detection lists for %d frames", len(wire), len(frames))
	}

	results := make([][]pipeline.Detection, len(wire))
	for i, dets := range wire {
		results[i] = make([]pipeline.Detection, 0, len(dets))
		for _, det := range dets {
			results[i] = append(results[i], det.toDetection())
		}
	}
	return results, nil
}

// Close is a no-op; the service owns the model lifecycle
func (d *RemoteDetector) Close() error {
	return nil
}
