package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/mecabot/mecabot/internal/hw/wheel"
	"github.com/mecabot/mecabot/internal/logic/motion"
	"github.com/mecabot/mecabot/internal/logic/pattern"
	"github.com/mecabot/mecabot/internal/logic/route"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// Limits on a single drive request.
const (
	MaxDriveMs      = 60_000
	MaxDriveCm      = 1_000
	MaxDriveDegrees = 3_600
	MaxDriveTicks   = 100_000
)

// Engine is the part of the drive engine the HTTP surface controls.
type Engine interface {
	route.Mover
	Stop() error
	SetSpeed(percent float64) error
	Status() motion.Status
	Latch() *motion.Latch
}

// TickReader exposes the encoder counters.
type TickReader interface {
	Counts() map[wheel.ID]uint64
	Average() uint64
}

// DriveRequest is the body of POST /drive. Exactly one of Cm, Degrees, Ms or
// Ticks must be set.
type DriveRequest struct {
	Motion  string  `json:"motion"`
	Cm      float64 `json:"cm,omitempty"`
	Degrees float64 `json:"degrees,omitempty"`
	Ms      int     `json:"ms,omitempty"`
	Ticks   uint64  `json:"ticks,omitempty"`
}

func (r DriveRequest) step() route.Step {
	return route.Step{Motion: r.Motion, Cm: r.Cm, Degrees: r.Degrees, Ms: r.Ms, Ticks: r.Ticks}
}

// SpeedRequest is the body of POST /speed.
type SpeedRequest struct {
	DutyPercent float64 `json:"duty_percent"`
}

// ValidateDrive checks a drive request before it reaches the engine.
func ValidateDrive(r DriveRequest) error {
	for name, v := range map[string]float64{"cm": r.Cm, "degrees": r.Degrees} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be a finite number", name)
		}
	}
	if r.Cm == 0 && r.Degrees == 0 && r.Ms == 0 && r.Ticks == 0 {
		return errors.New("one of cm, degrees, ms or ticks is required")
	}
	if err := r.step().Validate(); err != nil {
		return err
	}
	switch {
	case r.Ms > MaxDriveMs:
		return fmt.Errorf("ms must be at most %d", MaxDriveMs)
	case r.Cm > MaxDriveCm:
		return fmt.Errorf("cm must be at most %d", MaxDriveCm)
	case r.Degrees > MaxDriveDegrees:
		return fmt.Errorf("degrees must be at most %d", MaxDriveDegrees)
	case r.Ticks > MaxDriveTicks:
		return fmt.Errorf("ticks must be at most %d", MaxDriveTicks)
	}
	return nil
}

// ConfigInfo holds values shown by the control page (from config).
type ConfigInfo struct {
	DutyPercent  float64  `json:"duty_percent"`
	TicksPerCm   float64  `json:"ticks_per_cm"`
	BusyPolicy   string   `json:"busy_policy"`
	TickStrategy string   `json:"tick_strategy"`
	Motions      []string `json:"motions"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Engine      Engine
	Ticks       TickReader
	Info        ConfigInfo
	staticFS    fs.FS

	// ctx bounds drives started over HTTP; cancelled on server shutdown.
	ctx context.Context
}

// NewHandlers creates handlers with the given dependencies.
// If engine is nil, drive and control endpoints return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, engine Engine, ticks TickReader, info ConfigInfo, staticFS fs.FS) *Handlers {
	if len(info.Motions) == 0 {
		for _, m := range pattern.Motions() {
			info.Motions = append(info.Motions, m.String())
		}
	}
	return &Handlers{
		Broadcaster: broadcaster,
		Engine:      engine,
		Ticks:       ticks,
		Info:        info,
		staticFS:    staticFS,
		ctx:         context.Background(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handlers) requireEngine(w http.ResponseWriter) bool {
	if h.Engine == nil {
		http.Error(w, "motors not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// HandleConfig returns the page defaults (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Info)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleDrive handles POST /drive. The move runs in the background; progress
// and the outcome are reported on the status stream.
func (h *Handlers) HandleDrive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DriveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ValidateDrive(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.requireEngine(w) {
		return
	}

	st := h.Engine.Status()
	if st.EmergencyStop {
		http.Error(w, "emergency stop asserted", http.StatusLocked)
		return
	}
	if st.State != motion.Idle.String() {
		http.Error(w, "drive already in progress ("+st.Motion+")", http.StatusConflict)
		return
	}

	step := req.step()
	go func() {
		rt := &route.Route{Name: "web", Steps: []route.Step{step}}
		err := route.NewRunner(h.Engine).Run(h.ctx, rt)
		switch {
		case err == nil:
			h.Broadcaster.Broadcast("info", "Drive complete: "+step.String())
		case errors.Is(err, motion.ErrBusy):
			h.Broadcaster.Broadcast("error", "Drive rejected: another drive started first")
		default:
			h.Broadcaster.Broadcast("error", "Drive failed: "+err.Error())
			log.Printf("drive failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStop handles POST /stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	if err := h.Engine.Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleEmergencyStop handles POST /estop (assert) and DELETE /estop (clear).
func (h *Handlers) HandleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	latch := h.Engine.Latch()
	if latch == nil {
		http.Error(w, "emergency stop not wired", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodPost:
		latch.Assert()
		_ = h.Engine.Stop()
		h.Broadcaster.Broadcast("error", "Emergency stop asserted")
	case http.MethodDelete:
		latch.Clear()
		h.Broadcaster.Broadcast("info", "Emergency stop cleared")
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"emergency_stop": latch.Asserted()})
}

// HandleSpeed handles POST /speed.
func (h *Handlers) HandleSpeed(w http.ResponseWriter, r *http.Request) {
	var req SpeedRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.requireEngine(w) {
		return
	}
	if err := h.Engine.SetSpeed(req.DutyPercent); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, motion.ErrInvalidSpeed) {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// HandleTicks returns the encoder counters by wheel name, plus their mean.
func (h *Handlers) HandleTicks(w http.ResponseWriter, r *http.Request) {
	if h.Ticks == nil {
		http.Error(w, "encoders not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, tickSnapshot(h.Ticks))
}

func tickSnapshot(t TickReader) map[string]uint64 {
	out := make(map[string]uint64, wheel.Count+1)
	for w, n := range t.Counts() {
		out[w.String()] = n
	}
	out["average"] = t.Average()
	return out
}

// HandleStatus returns the engine status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.Status())
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
