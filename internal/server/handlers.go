package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cropsight/internal/auth"
	"cropsight/internal/library"
	"cropsight/internal/pipeline"
	"cropsight/internal/report"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAuthDisabled):
			writeError(w, http.StatusBadRequest, "authentication is disabled")
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
		"detector":         s.detector.Name(),
		"detector_healthy": s.detector.IsHealthy(),
		"active_run":       s.runner.Status() != nil,
		"runs":             s.library.Count(),
		"ws_clients":       s.hub.ClientCount(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	// Decode over the current config so omitted fields keep their values
	cfg := s.config.Get()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.config.Update(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("[Server] configuration updated; pipeline settings apply on restart")
	writeJSON(w, http.StatusOK, s.config.Get())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if err := s.library.Refresh(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.library.List())
}

type startRunRequest struct {
	VideoPath      string `json:"video_path"`
	FlightDuration string `json:"flight_duration"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VideoPath == "" {
		writeError(w, http.StatusBadRequest, "video_path is required")
		return
	}
	if _, err := os.Stat(req.VideoPath); err != nil {
		writeError(w, http.StatusBadRequest, "video file not found")
		return
	}

	s.startMu.Lock()
	if s.running {
		s.startMu.Unlock()
		writeError(w, http.StatusConflict, "a run is already active")
		return
	}
	s.running = true
	s.startMu.Unlock()

	outputBase := s.config.Get().OutputBase

	go func() {
		defer func() {
			s.startMu.Lock()
			s.running = false
			s.startMu.Unlock()
		}()

		result, err := s.runner.Run(context.Background(), pipeline.RunRequest{
			VideoPath:      req.VideoPath,
			FlightDuration: req.FlightDuration,
			OutputBase:     outputBase,
			OnComplete: func(outputFolder string) {
				if _, err := s.library.Add(outputFolder); err != nil {
					log.Printf("[Server] failed to index run folder %s: %v", outputFolder, err)
				}
			},
		})
		if err != nil {
			log.Printf("[Server] run failed: %v", err)
			return
		}
		log.Printf("[Server] run %s finished: %d observations, %d photos",
			result.RunID, result.Observations, result.Photos)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"video_path": req.VideoPath,
	})
}

func (s *Server) handleActiveRun(w http.ResponseWriter, r *http.Request) {
	status := s.runner.Status()
	if status == nil {
		writeError(w, http.StatusNotFound, "no active run")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.library.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if status := s.runner.Status(); status != nil && filepath.Base(status.OutputFolder) == id {
		writeError(w, http.StatusConflict, "run is active")
		return
	}

	if err := s.library.Delete(id); err != nil {
		if errors.Is(err, library.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	run, err := s.library.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rep, err := report.Build(run.Folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "run has no results")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
