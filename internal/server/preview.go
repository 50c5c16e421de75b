package server

import (
	"fmt"
	"log"
	"net/http"
	"sync"
)

// Preview streams the most recently annotated frames as MJPEG while a
// run is processing. Viewers that connect between runs see the last
// frame of the previous run.
type Preview struct {
	mu      sync.RWMutex
	clients map[chan []byte]bool
	current []byte
}

// NewPreview creates an idle preview stream
func NewPreview() *Preview {
	return &Preview{
		clients: make(map[chan []byte]bool),
	}
}

// SetFrame publishes a freshly annotated frame to all viewers
func (p *Preview) SetFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}

	p.mu.Lock()
	p.current = frame
	for ch := range p.clients {
		select {
		case ch <- frame:
		default:
			// Viewer is behind; skip this frame for it
		}
	}
	p.mu.Unlock()
}

// CurrentFrame returns the last annotated frame, or nil before any run
func (p *Preview) CurrentFrame() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// ClientCount returns the number of connected viewers
func (p *Preview) ClientCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

func (p *Preview) addClient() chan []byte {
	ch := make(chan []byte, 5)

	p.mu.Lock()
	p.clients[ch] = true
	total := len(p.clients)
	p.mu.Unlock()

	log.Printf("[Preview] viewer connected (total: %d)", total)
	return ch
}

func (p *Preview) removeClient(ch chan []byte) {
	p.mu.Lock()
	delete(p.clients, ch)
	total := len(p.clients)
	p.mu.Unlock()

	log.Printf("[Preview] viewer disconnected (total: %d)", total)
}

// ServeHTTP streams multipart/x-mixed-replace JPEG parts until the
// client goes away
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")

	ch := p.addClient()
	defer p.removeClient(ch)

	writeFrame := func(frame []byte) bool {
		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
			return false
		}
		if _, err := w.Write(frame); err != nil {
			return false
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Paint the last known frame immediately
	if current := p.CurrentFrame(); current != nil {
		if !writeFrame(current) {
			return
		}
	}

	for {
		select {
		case frame := <-ch:
			if !writeFrame(frame) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
