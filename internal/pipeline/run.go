package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBatchSize is the number of frames grouped per detector call
	DefaultBatchSize = 4

	// DefaultJPEGQuality applies to annotated frames handed to the encoder
	DefaultJPEGQuality = 85

	// OutputVideoName is the annotated video inside a run folder
	OutputVideoName = "processed_video.mp4"

	// StoreFileName is the per-run result database
	StoreFileName = "flight_data.db"

	// PhotosDirName is the per-run track photo directory
	PhotosDirName = "photos"

	// RunFolderPrefix and RunFolderTimeFormat name run output folders,
	// e.g. run_20260823_141503
	RunFolderPrefix     = "run_"
	RunFolderTimeFormat = "20060102_150405"
)

// RunnerDeps bundles the collaborators the orchestrator drives. The
// detector is long-lived and shared across runs because model startup is
// expensive; the factories open fresh per-run resources inside each run's
// output folder.
type RunnerDeps struct {
	Detector    DetectorTracker
	Annotator   FrameAnnotator
	OpenSource  func(path string) (FrameSource, error)
	NewWriter   func(path string, meta VideoMeta) (FrameWriter, error)
	NewStore    func(path string) (ObservationStore, error)
	NewArchiver func(dir string) (PhotoArchiver, error)
	Bus         *EventBus
}

// RunnerConfig holds orchestrator tunables
type RunnerConfig struct {
	BatchSize   int
	JPEGQuality int
}

// Runner executes analysis runs, one at a time per process
type Runner struct {
	deps RunnerDeps
	cfg  RunnerConfig

	mu     sync.RWMutex
	status *RunStatus
}

// NewRunner validates the dependency set and creates a runner
func NewRunner(deps RunnerDeps, cfg RunnerConfig) (*Runner, error) {
	if deps.Detector == nil {
		return nil, fmt.Errorf("runner requires a detector")
	}
	if deps.Annotator == nil {
		return nil, fmt.Errorf("runner requires an annotator")
	}
	if deps.OpenSource == nil || deps.NewWriter == nil || deps.NewStore == nil || deps.NewArchiver == nil {
		return nil, fmt.Errorf("runner requires all resource factories")
	}
	if deps.Bus == nil {
		deps.Bus = NewEventBus()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	return &Runner{deps: deps, cfg: cfg}, nil
}

// Bus returns the event bus runs publish on
func (r *Runner) Bus() *EventBus {
	return r.deps.Bus
}

// Status returns a snapshot of the active run, or nil when idle
func (r *Runner) Status() *RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.status == nil {
		return nil
	}
	s := *r.status
	return &s
}

func (r *Runner) acquire(status *RunStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != nil {
		return false
	}
	r.status = status
	return true
}

func (r *Runner) release() {
	r.mu.Lock()
	r.status = nil
	r.mu.Unlock()
}

func (r *Runner) update(fn func(*RunStatus)) {
	r.mu.Lock()
	if r.status != nil {
		fn(r.status)
	}
	r.mu.Unlock()
}

// Run executes the full pipeline over one flight video and blocks until
// the run reaches DONE or FAILED. Cancelling ctx takes effect between
// batches: the run finalizes early and keeps everything flushed so far.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	runID := uuid.New().String()
	startedAt := time.Now()

	if !r.acquire(&RunStatus{
		RunID:     runID,
		VideoPath: req.VideoPath,
		Stage:     StageInitializing,
		StartedAt: startedAt,
	}) {
		return nil, ErrRunActive
	}
	defer r.release()

	log.Printf("[Runner] run %s: analyzing %s", runID, req.VideoPath)

	fail := func(stage RunStage, err error) (*RunResult, error) {
		r.update(func(s *RunStatus) { s.Stage = StageFailed })
		runErr := &RunError{VideoPath: req.VideoPath, Stage: stage, Err: err}
		log.Printf("[Runner] run %s: %v", runID, runErr)
		r.deps.Bus.Publish(&RunEvent{
			Type:      EventRunFailed,
			RunID:     runID,
			VideoPath: req.VideoPath,
			Stage:     stage,
			Error:     runErr.Error(),
			Timestamp: time.Now(),
		})
		return nil, runErr
	}

	// The source must open before anything touches disk
	src, err := r.deps.OpenSource(req.VideoPath)
	if err != nil {
		return fail(StageInitializing, fmt.Errorf("%w: %v", ErrSourceOpen, err))
	}
	meta := src.Meta()

	outputFolder := filepath.Join(req.OutputBase, RunFolderPrefix+startedAt.Format(RunFolderTimeFormat))
	photosDir := filepath.Join(outputFolder, PhotosDirName)
	if err := os.MkdirAll(photosDir, 0o755); err != nil {
		src.Close()
		return fail(StageInitializing, fmt.Errorf("failed to create output folder: %w", err))
	}

	// A half-initialized run folder is never left behind: any failure
	// past this point during init removes it again
	initFail := func(err error, open ...io.Closer) (*RunResult, error) {
		for _, c := range open {
			c.Close()
		}
		src.Close()
		os.RemoveAll(outputFolder)
		return fail(StageInitializing, err)
	}

	store, err := r.deps.NewStore(filepath.Join(outputFolder, StoreFileName))
	if err != nil {
		return initFail(fmt.Errorf("%w: %v", ErrStoreWrite, err))
	}
	writer, err := r.deps.NewWriter(filepath.Join(outputFolder, OutputVideoName), meta)
	if err != nil {
		return initFail(fmt.Errorf("failed to open video writer: %w", err), store)
	}
	archiver, err := r.deps.NewArchiver(photosDir)
	if err != nil {
		return initFail(fmt.Errorf("failed to prepare photo archive: %w", err), store, writer)
	}

	r.update(func(s *RunStatus) {
		s.OutputFolder = outputFolder
		s.TotalFrames = meta.TotalFrames
		s.Stage = StageStreaming
	})
	r.deps.Bus.Publish(&RunEvent{
		Type:         EventRunStarted,
		RunID:        runID,
		VideoPath:    req.VideoPath,
		OutputFolder: outputFolder,
		Stage:        StageStreaming,
		Timestamp:    time.Now(),
	})
	log.Printf("[Runner] run %s: %d frames at %.2f fps, batch size %d",
		runID, meta.TotalFrames, meta.FPS, r.cfg.BatchSize)

	finalize := func() {
		r.update(func(s *RunStatus) { s.Stage = StageFinalizing })
		if err := store.Close(); err != nil {
			log.Printf("[Runner] run %s: closing store: %v", runID, err)
		}
		if err := writer.Close(); err != nil {
			log.Printf("[Runner] run %s: closing video writer: %v", runID, err)
		}
		if err := src.Close(); err != nil {
			log.Printf("[Runner] run %s: closing frame source: %v", runID, err)
		}
	}

	// Failures during streaming keep whatever batches were already
	// flushed: deleting a partially processed run would destroy valid
	// analysis of the frames that did succeed
	streamFail := func(err error) (*RunResult, error) {
		finalize()
		return fail(StageStreaming, err)
	}

	est := newProgressEstimator(runID, meta.TotalFrames)
	framesDone := 0
	obsTotal := 0
	cancelled := false

	for {
		if ctx.Err() != nil {
			cancelled = true
			log.Printf("[Runner] run %s: cancelled after %d frames", runID, framesDone)
			break
		}

		batch, err := readBatch(src, r.cfg.BatchSize)
		if err != nil {
			return streamFail(fmt.Errorf("failed to read frames: %w", err))
		}
		if len(batch) == 0 {
			break
		}

		batchStart := time.Now()
		perFrame, err := r.deps.Detector.DetectAndTrack(ctx, batch)
		if err != nil {
			return streamFail(fmt.Errorf("%w: %v", ErrDetector, err))
		}
		if len(perFrame) != len(batch) {
			return streamFail(fmt.Errorf("%w: got %d detection lists for %d frames", ErrDetector, len(perFrame), len(batch)))
		}

		obs := make([]Observation, 0, len(batch))
		for i, frame := range batch {
			dets := tracked(perFrame[i])
			r.deps.Annotator.Annotate(frame, dets)

			data, err := encodeJPEG(frame.Image, r.cfg.JPEGQuality)
			if err != nil {
				return streamFail(fmt.Errorf("failed to encode frame %d: %w", frame.Index, err))
			}
			if err := writer.Write(data); err != nil {
				return streamFail(fmt.Errorf("failed to write frame %d: %w", frame.Index, err))
			}
			r.deps.Bus.Publish(&RunEvent{
				Type:       EventFrameAnnotated,
				RunID:      runID,
				FrameIndex: frame.Index,
				FrameJPEG:  data,
				Timestamp:  time.Now(),
			})

			for _, det := range dets {
				path, err := archiver.Capture(frame, det)
				if err != nil {
					// Non-fatal: the track stays unmarked and a later
					// frame retries the photo
					log.Printf("[Runner] run %s: photo for track %d failed: %v", runID, *det.TrackID, err)
				} else if path != "" {
					r.deps.Bus.Publish(&RunEvent{
						Type:       EventPhotoSaved,
						RunID:      runID,
						PhotoPath:  path,
						TrackID:    *det.TrackID,
						Class:      det.Class,
						FrameIndex: frame.Index,
						Timestamp:  time.Now(),
					})
				}
				obs = append(obs, Observation{
					FrameIndex: frame.Index,
					TrackID:    *det.TrackID,
					Class:      det.Class,
					BBox:       det.BBox,
					Confidence: det.Confidence,
				})
			}
		}

		if err := store.WriteBatch(obs, req.FlightDuration); err != nil {
			return streamFail(fmt.Errorf("%w: %v", ErrStoreWrite, err))
		}
		obsTotal += len(obs)
		framesDone += len(batch)
		r.update(func(s *RunStatus) { s.FramesDone = framesDone })

		prog := est.observe(framesDone, len(batch), time.Since(batchStart))
		if req.OnProgress != nil {
			req.OnProgress(prog)
		}
		r.deps.Bus.Publish(&RunEvent{
			Type:      EventRunProgress,
			RunID:     runID,
			Progress:  &prog,
			Timestamp: time.Now(),
		})
	}

	finalize()

	r.update(func(s *RunStatus) { s.Stage = StageDone })
	result := &RunResult{
		RunID:        runID,
		OutputFolder: outputFolder,
		Stage:        StageDone,
		TotalFrames:  meta.TotalFrames,
		FramesDone:   framesDone,
		Observations: obsTotal,
		Photos:       archiver.Count(),
		Cancelled:    cancelled,
		Elapsed:      time.Since(startedAt),
	}
	r.deps.Bus.Publish(&RunEvent{
		Type:         EventRunCompleted,
		RunID:        runID,
		OutputFolder: outputFolder,
		Stage:        StageDone,
		Result:       result,
		Timestamp:    time.Now(),
	})
	if req.OnComplete != nil {
		req.OnComplete(outputFolder)
	}
	log.Printf("[Runner] run %s: done, %d/%d frames, %d observations, %d photos (%s)",
		runID, framesDone, meta.TotalFrames, obsTotal, result.Photos, result.Elapsed.Round(time.Millisecond))

	return result, nil
}

// readBatch pulls up to n frames from the source. A short or empty batch
// means the video is exhausted.
func readBatch(src FrameSource, n int) ([]*Frame, error) {
	batch := make([]*Frame, 0, n)
	for len(batch) < n {
		frame, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, frame)
	}
	return batch, nil
}

// tracked filters out detections without a track identity. A confidence
// score without a stable id cannot be deduplicated or safely archived, so
// untracked detections are never drawn, persisted or photographed.
func tracked(dets []Detection) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.TrackID == nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

func encodeJPEG(img *image.RGBA, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
