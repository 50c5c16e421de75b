package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cropsight/internal/library"
	"cropsight/internal/pipeline"
	"cropsight/internal/report"
	"cropsight/internal/ws"
)

func usage() {
	fmt.Fprintf(os.Stderr, `cropsight-cli is a command line client for the cropsight analysis service.

Usage:
    cropsight-cli [flags] <command> [args]

Commands:
    login <username> <password>    obtain a bearer token
    health                         service and detector health
    runs                           list finished runs
    start <video> [duration]       start analyzing a flight video
    active                         show the run in progress
    report <run-id>                per-plant health report of a run
    delete <run-id>                delete a run and its artifacts
    config                         show the service configuration
    watch                          stream live run events

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		urlF     = flag.String("url", "http://localhost:8080", "Service base URL")
		tokenF   = flag.String("token", "", "Bearer token for mutating commands (see the login command)")
		timeoutF = flag.Int("timeout", 30, "Request timeout in seconds")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	c := &client{
		base:  strings.TrimRight(*urlF, "/"),
		token: *tokenF,
		http:  &http.Client{Timeout: time.Duration(*timeoutF) * time.Second},
	}

	var err error
	switch args[0] {
	case "login":
		err = c.login(args[1:])
	case "health":
		err = c.health()
	case "runs":
		err = c.listRuns()
	case "start":
		err = c.start(args[1:])
	case "active":
		err = c.active()
	case "report":
		err = c.report(args[1:])
	case "delete":
		err = c.deleteRun(args[1:])
	case "config":
		err = c.showConfig()
	case "watch":
		err = c.watch()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

type client struct {
	base  string
	token string
	http  *http.Client
}

// do sends one API request and decodes the JSON response into out. API
// error payloads become Go errors carrying the server's message.
func (c *client) do(method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (c *client) login(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: login <username> <password>")
	}

	var resp struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	err := c.do(http.MethodPost, "/api/login", map[string]string{
		"username": args[0],
		"password": args[1],
	}, &resp)
	if err != nil {
		return err
	}

	fmt.Println(resp.Token)
	fmt.Fprintf(os.Stderr, "token expires %s\n", time.Unix(resp.ExpiresAt, 0).Format(time.RFC1123))
	return nil
}

func (c *client) health() error {
	var health map[string]interface{}
	if err := c.do(http.MethodGet, "/api/health", nil, &health); err != nil {
		return err
	}
	data, err := json.MarshalIndent(health, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func (c *client) listRuns() error {
	var runs []*library.Run
	if err := c.do(http.MethodGet, "/api/runs", nil, &runs); err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs yet")
		return nil
	}

	fmt.Printf("%-22s %-20s %-6s %-8s %s\n", "RUN", "STARTED", "VIDEO", "RESULTS", "PHOTOS")
	for _, run := range runs {
		fmt.Printf("%-22s %-20s %-6s %-8s %d\n",
			run.ID,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			mark(run.HasVideo),
			mark(run.HasResults),
			run.PhotoCount)
	}
	return nil
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "-"
}

func (c *client) start(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: start <video> [flight-duration]")
	}

	payload := map[string]string{"video_path": args[0]}
	if len(args) > 1 {
		payload["flight_duration"] = strings.Join(args[1:], " ")
	}
	if err := c.do(http.MethodPost, "/api/runs", payload, nil); err != nil {
		return err
	}

	fmt.Println("run accepted; follow it with the watch command")
	return nil
}

func (c *client) active() error {
	var status pipeline.RunStatus
	if err := c.do(http.MethodGet, "/api/runs/active", nil, &status); err != nil {
		return err
	}

	fmt.Printf("run %s (%s)\n", status.RunID, status.Stage)
	fmt.Printf("  video:  %s\n", status.VideoPath)
	fmt.Printf("  frames: %d/%d\n", status.FramesDone, status.TotalFrames)
	fmt.Printf("  since:  %s\n", status.StartedAt.Format(time.RFC1123))
	return nil
}

func (c *client) report(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: report <run-id>")
	}

	var rep report.Report
	if err := c.do(http.MethodGet, "/api/runs/"+args[0]+"/report", nil, &rep); err != nil {
		return err
	}

	fmt.Printf("%s: %d observations over %d plants\n", args[0], rep.Observations, rep.PlantsAnalyzed)
	if rep.FlightDuration != "" {
		fmt.Printf("flight duration: %s\n", rep.FlightDuration)
	}
	fmt.Printf("affected plants: %d\n\n", rep.AffectedPlants)

	for _, track := range rep.Tracks {
		fmt.Printf("  plant %-4d %-24s %5.1f%%", track.TrackID, track.Class, track.Confidence*100)
		if track.Photo != "" {
			fmt.Printf("  (%s)", track.Photo)
		}
		fmt.Println()
	}

	if len(rep.Countermeasures) > 0 {
		classes := make([]string, 0, len(rep.Countermeasures))
		for class := range rep.Countermeasures {
			classes = append(classes, class)
		}
		sort.Strings(classes)

		fmt.Println("\ncountermeasures:")
		for _, class := range classes {
			fmt.Printf("  %s: %s\n", class, rep.Countermeasures[class])
		}
	}
	return nil
}

func (c *client) deleteRun(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete <run-id>")
	}
	if err := c.do(http.MethodDelete, "/api/runs/"+args[0], nil, nil); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func (c *client) showConfig() error {
	var cfg map[string]interface{}
	if err := c.do(http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// watch streams run events until the connection drops or Ctrl-C
func (c *client) watch() error {
	wsURL := strings.Replace(c.base, "http", "ws", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		conn.Close()
	}()

	fmt.Fprintf(os.Stderr, "watching %s (Ctrl-C to stop)\n", wsURL)
	for {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			fmt.Fprintln(os.Stderr, "connection closed")
			return nil
		}
		printEvent(&msg)
	}
}

func printEvent(msg *ws.Message) {
	stamp := msg.Timestamp.Format("15:04:05")
	switch msg.Type {
	case ws.TypeRunStarted:
		fmt.Printf("%s run started: %s -> %s\n", stamp, msg.VideoPath, msg.OutputFolder)
	case ws.TypeRunProgress:
		remaining := (time.Duration(msg.RemainingMs) * time.Millisecond).Round(time.Second)
		fmt.Printf("%s progress: %d/%d frames, ~%s left\n", stamp, msg.FramesDone, msg.TotalFrames, remaining)
	case ws.TypePhotoSaved:
		fmt.Printf("%s photo: plant %d (%s) -> %s\n", stamp, msg.TrackID, msg.Class, msg.PhotoPath)
	case ws.TypeRunCompleted:
		fmt.Printf("%s completed: %d frames, %d observations, %d photos\n",
			stamp, msg.FramesDone, msg.Observations, msg.Photos)
		if msg.Cancelled {
			fmt.Printf("%s (run was cancelled early)\n", stamp)
		}
	case ws.TypeRunFailed:
		fmt.Printf("%s FAILED: %s\n", stamp, msg.Error)
	default:
		fmt.Printf("%s %s\n", stamp, msg.Type)
	}
}
