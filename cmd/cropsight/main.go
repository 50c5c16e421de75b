package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cropsight/internal/annotate"
	"cropsight/internal/auth"
	"cropsight/internal/config"
	"cropsight/internal/database"
	"cropsight/internal/detection"
	"cropsight/internal/library"
	"cropsight/internal/notify"
	"cropsight/internal/photos"
	"cropsight/internal/pipeline"
	"cropsight/internal/server"
	"cropsight/internal/video"
)

func main() {
	// Define command line flags; every flag overrides the corresponding
	// config file setting for this invocation.
	var (
		modeF     = flag.String("mode", "serve", "Run mode (valid values: serve, analyze)")
		videoF    = flag.String("video", "", "Flight video to analyze (analyze mode)")
		durationF = flag.String("flight-duration", "", `Flight duration stored with the results, e.g. "95 sec"`)
		configF   = flag.String("config", "", "Config file path (defaults to $"+config.EnvConfigPath+")")
		addrF     = flag.String("addr", "", "HTTP listen address (serve mode)")
		outputF   = flag.String("output", "", "Base directory for run output folders")
		backendF  = flag.String("detector", "", "Detector backend (valid values: remote, replay)")
		endpointF = flag.String("endpoint", "", "Detection service URL (remote backend)")
		replayF   = flag.String("replay", "", "Recorded detections file (replay backend)")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[cropsight] ", log.Ltime)
	}

	configPath := *configF
	if configPath == "" {
		configPath = os.Getenv(config.EnvConfigPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("loading config: %s", err)
	}
	if *addrF != "" {
		cfg.Server.Address = *addrF
	}
	if *outputF != "" {
		cfg.OutputBase = *outputF
	}
	if *backendF != "" {
		cfg.Detector.Kind = *backendF
	}
	if *endpointF != "" {
		cfg.Detector.Endpoint = *endpointF
	}
	if *replayF != "" {
		cfg.Detector.ReplayFile = *replayF
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %s", err)
	}
	manager := config.NewManagerWith(configPath, cfg)

	// The detector is shared across runs; model startup on the remote
	// side is too expensive to repeat per video.
	detector, err := detection.NewRegistry().Build(detection.Config{
		Kind:          cfg.Detector.Kind,
		Endpoint:      cfg.Detector.Endpoint,
		ReplayFile:    cfg.Detector.ReplayFile,
		ConfThreshold: cfg.Detector.ConfThreshold,
	})
	if err != nil {
		logger.Fatalf("building detector: %s", err)
	}
	defer detector.Close()
	logger.Printf("detector backend: %s", detector.Name())

	runner, err := pipeline.NewRunner(pipeline.RunnerDeps{
		Detector:  detector,
		Annotator: annotate.New(cfg.Annotator.Colors),
		OpenSource: func(path string) (pipeline.FrameSource, error) {
			return video.OpenFile(path)
		},
		NewWriter: func(path string, meta pipeline.VideoMeta) (pipeline.FrameWriter, error) {
			return video.NewFileWriter(path, meta)
		},
		NewStore: func(path string) (pipeline.ObservationStore, error) {
			db, err := database.New(path)
			if err != nil {
				return nil, err
			}
			if err := db.Migrate(); err != nil {
				db.Close()
				return nil, err
			}
			return db, nil
		},
		NewArchiver: func(dir string) (pipeline.PhotoArchiver, error) {
			return photos.NewArchiver(dir, cfg.Pipeline.JPEGQuality)
		},
	}, pipeline.RunnerConfig{
		BatchSize:   cfg.Pipeline.BatchSize,
		JPEGQuality: cfg.Pipeline.JPEGQuality,
	})
	if err != nil {
		logger.Fatalf("building pipeline: %s", err)
	}

	notifier := notify.New(notify.Config{
		BotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		ChatID:          os.Getenv("TELEGRAM_CHAT_ID"),
		Enabled:         cfg.Telegram.Enabled,
		CooldownSeconds: cfg.Telegram.CooldownSeconds,
	})
	if notifier.Enabled() {
		unsubscribe := runner.Bus().Subscribe(notifier)
		defer unsubscribe()
		logger.Printf("telegram notifications enabled")
	}

	switch *modeF {
	case "analyze":
		runAnalyze(logger, runner, cfg, *videoF, *durationF)
	case "serve":
		runServe(logger, runner, detector, manager, cfg)
	default:
		logger.Fatalf("invalid mode argument: %q (valid modes: serve|analyze)", *modeF)
	}
}

// runAnalyze processes a single video from the command line and exits
func runAnalyze(logger *log.Logger, runner *pipeline.Runner, cfg *config.Config, videoPath, flightDuration string) {
	if videoPath == "" {
		logger.Fatalf("analyze mode requires -video")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(ctx, pipeline.RunRequest{
		VideoPath:      videoPath,
		FlightDuration: flightDuration,
		OutputBase:     cfg.OutputBase,
		OnProgress: func(p pipeline.Progress) {
			logger.Printf("progress: %d/%d frames, ~%s left",
				p.FramesDone, p.TotalFrames, p.Remaining.Round(time.Second))
		},
	})
	if err != nil {
		logger.Fatalf("analysis failed: %s", err)
	}

	if result.Cancelled {
		logger.Printf("run cancelled; partial results kept")
	}
	logger.Printf("analysis complete: %d/%d frames, %d observations, %d photos (%s)",
		result.FramesDone, result.TotalFrames, result.Observations, result.Photos,
		result.Elapsed.Round(time.Millisecond))
	logger.Printf("results in %s", result.OutputFolder)
}

// runServe hosts the REST API, event socket and live preview until a
// shutdown signal arrives
func runServe(logger *log.Logger, runner *pipeline.Runner, detector pipeline.DetectorTracker, manager *config.Manager, cfg *config.Config) {
	lib := library.New(cfg.OutputBase)
	logger.Printf("run library: %d runs under %s", lib.Count(), cfg.OutputBase)

	authenticator := auth.NewAuthenticator()
	if authenticator.IsEnabled() {
		logger.Printf("API authentication enabled")
	}

	srv := server.New(runner, detector, lib, manager, authenticator)
	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel used by both the signal handler and the server goroutine
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		logger.Printf("HTTP server listening on %s", cfg.Server.Address)
		errc <- httpServer.ListenAndServe()
	}()

	logger.Printf("exiting (%v)", <-errc)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %s", err)
	}
	logger.Println("exited")
}
