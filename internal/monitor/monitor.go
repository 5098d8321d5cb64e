// Package monitor serves the debug HTTP surface for a running session:
// status, pause and resume, scene inspection, charts and layout tuning.
// Routes hang off tsweb's /debug/ handler, so they are reachable only from
// localhost or the tailnet.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/netviz/internal/layout"
	"github.com/banshee-data/netviz/internal/monitoring"
	"github.com/banshee-data/netviz/internal/scene"
	"github.com/banshee-data/netviz/internal/scheduler"
	"github.com/banshee-data/netviz/internal/session"
)

// Target is the session surface the routes need.
type Target interface {
	ID() string
	Status() session.Status
	Pause()
	Resume()
	Do(ctx context.Context, fn func(*scheduler.View)) error
}

// Server renders debug pages for one Target.
type Server struct {
	target Target
	// DoTimeout bounds how long a request waits for the tick loop.
	DoTimeout time.Duration
}

// New returns a Server for t.
func New(t Target) *Server {
	return &Server{target: t, DoTimeout: 2 * time.Second}
}

// AttachAdminRoutes registers the debug routes on mux under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Session", func() any { return s.target.ID() })
	debug.KVFunc("State", func() any { return s.target.Status().State.String() })

	debug.HandleFunc("session", "Session status (JSON)", s.handleStatus)
	debug.HandleSilentFunc("pause", s.handlePause)
	debug.HandleSilentFunc("resume", s.handleResume)
	debug.HandleFunc("scene", "Scene layers, offsets and statistics (JSON)", s.handleScene)
	debug.HandleSilentFunc("layer-heatmap", s.handleHeatmap)
	debug.HandleSilentFunc("layer-histogram.png", s.handleHistogram)
	debug.HandleFunc("layout", "Layout spacing (GET, or POST JSON to change)", s.handleLayout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("[monitor] failed to write response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// do runs fn on the tick loop and maps failures to HTTP errors. It reports
// whether fn ran.
func (s *Server) do(w http.ResponseWriter, r *http.Request, fn func(*scheduler.View)) bool {
	ctx, cancel := context.WithTimeout(r.Context(), s.DoTimeout)
	defer cancel()
	err := s.target.Do(ctx, fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, scheduler.ErrStopped):
		writeJSONError(w, http.StatusServiceUnavailable, "session is shut down")
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusGatewayTimeout, "tick loop did not respond")
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
	return false
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.target.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.target.Pause()
	monitoring.Logf("[monitor] session %s paused", s.target.ID())
	writeJSON(w, http.StatusOK, s.target.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.target.Resume()
	monitoring.Logf("[monitor] session %s resumed", s.target.ID())
	writeJSON(w, http.StatusOK, s.target.Status())
}

type sceneResponse struct {
	Layers      []scene.LayerSnapshot `json:"layers"`
	Layout      layout.Params         `json:"layout"`
	Depth       float64               `json:"depth"`
	Focus       *scheduler.Focus      `json:"focus,omitempty"`
	Explanation scheduler.Explanation `json:"explanation"`
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	var resp sceneResponse
	ok := s.do(w, r, func(v *scheduler.View) {
		resp.Layers = v.Model.Snapshot()
		if v.Layout != nil {
			resp.Layout = v.Layout.Params()
			resp.Depth = v.Layout.Current().Depth()
		}
		if v.Focus != nil {
			f := *v.Focus
			resp.Focus = &f
		}
		resp.Explanation = v.Explanation
	})
	if ok {
		writeJSON(w, http.StatusOK, resp)
	}
}

type layoutResponse struct {
	Params  layout.Params      `json:"params"`
	Offsets map[string]float64 `json:"offsets"`
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	var next *layout.Params
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var p layout.Params
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&p); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
		if err := p.Validate(); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		next = &p
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp layoutResponse
	ok := s.do(w, r, func(v *scheduler.View) {
		if v.Layout == nil {
			return
		}
		if next != nil {
			v.Layout.SetParams(*next)
			v.Layout.Update(v.Model)
		}
		resp.Params = v.Layout.Params()
		resp.Offsets = make(map[string]float64)
		for _, name := range v.Model.Layers() {
			off, _ := v.Model.Offset(name)
			resp.Offsets[name] = off
		}
	})
	if !ok {
		return
	}
	if resp.Offsets == nil {
		writeJSONError(w, http.StatusNotFound, "session has no layout")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}
