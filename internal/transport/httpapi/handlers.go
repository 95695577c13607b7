package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sightline.ai/internal/coordinator"
	"sightline.ai/internal/geom"
	"sightline.ai/internal/protocol"
	"sightline.ai/internal/vision"
)

const (
	codeNotFound    = "E_NOT_FOUND"
	codeUnavailable = "E_UNAVAILABLE"

	maxBodyBytes = 8 << 20
)

type api struct{ hub *Hub }

// NewRouter registers the session endpoints on a fresh router.
func NewRouter(h *Hub) *mux.Router {
	r := mux.NewRouter()
	Register(r, h)
	return r
}

func Register(r *mux.Router, h *Hub) {
	a := &api{hub: h}
	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions", a.list).Methods(http.MethodGet)
	r.HandleFunc("/v1/scenes/{scene}/sessions", a.create).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id}", a.remove).Methods(http.MethodDelete)
	r.HandleFunc("/v1/sessions/{id}/reset", a.reset).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id}/update", a.update).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id}/visible", a.visible).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id}/{channel:vision|explored}", a.set).Methods(http.MethodGet)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, errorBody{Code: code, Message: msg})
}

func (a *api) session(rw http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := mux.Vars(r)["id"]
	s, ok := a.hub.Get(id)
	if !ok {
		writeError(rw, http.StatusNotFound, codeNotFound, "no session "+id)
	}
	return s, ok
}

// coordError maps coordinator failures onto HTTP statuses.
func coordError(rw http.ResponseWriter, err error) {
	if errors.Is(err, coordinator.ErrDestroyed) {
		writeError(rw, http.StatusGone, protocol.ErrClosed, err.Error())
		return
	}
	writeError(rw, http.StatusServiceUnavailable, codeUnavailable, err.Error())
}

func (a *api) health(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "sessions": len(a.hub.List())})
}

func (a *api) list(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"sessions": a.hub.List()})
}

func (a *api) create(rw http.ResponseWriter, r *http.Request) {
	scene := mux.Vars(r)["scene"]
	s, restored, err := a.hub.Create(r.Context(), scene)
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, codeUnavailable, err.Error())
		return
	}
	writeJSON(rw, http.StatusCreated, map[string]any{
		"session_id": s.ID,
		"scene":      s.Scene,
		"restored":   restored,
	})
}

func (a *api) remove(rw http.ResponseWriter, r *http.Request) {
	if err := a.hub.Delete(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, ErrNoSession) {
			writeError(rw, http.StatusNotFound, codeNotFound, err.Error())
			return
		}
		coordError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (a *api) reset(rw http.ResponseWriter, r *http.Request) {
	s, ok := a.session(rw, r)
	if !ok {
		return
	}
	if err := s.coord.Reset(); err != nil {
		coordError(rw, err)
		return
	}
	writeJSON(rw, http.StatusAccepted, map[string]any{"id": s.coord.LastID()})
}

// UpdateBody carries rings in real (unscaled) coordinates.
type UpdateBody struct {
	FOV      [][]geom.Vec `json:"fov"`
	LOS      [][]geom.Vec `json:"los"`
	Explored bool         `json:"explored"`
}

func toPaths(field string, rings [][]geom.Vec) ([]geom.Path, error) {
	out := make([]geom.Path, 0, len(rings))
	for i, ring := range rings {
		p, err := geom.PathFromVecs(ring)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *api) update(rw http.ResponseWriter, r *http.Request) {
	s, ok := a.session(rw, r)
	if !ok {
		return
	}
	var body UpdateBody
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	fov, err := toPaths("fov", body.FOV)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	los, err := toPaths("los", body.LOS)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	if err := s.coord.UpdateVision(fov, los, body.Explored); err != nil {
		coordError(rw, err)
		return
	}
	writeJSON(rw, http.StatusAccepted, map[string]any{"id": s.coord.LastID()})
}

func queryFloat(r *http.Request, name string, def float64, required bool) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return 0, fmt.Errorf("missing %s", name)
		}
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s: %w", name, err)
	}
	return v, nil
}

func (a *api) visible(rw http.ResponseWriter, r *http.Request) {
	s, ok := a.session(rw, r)
	if !ok {
		return
	}
	var (
		vals [4]float64
		err  error
	)
	params := []struct {
		name     string
		def      float64
		required bool
	}{
		{"x", 0, true},
		{"y", 0, true},
		{"r", 0, false},
		{"tolerance", a.hub.opts.DefaultTolerance, false},
	}
	for i, p := range params {
		if vals[i], err = queryFloat(r, p.name, p.def, p.required); err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
			return
		}
	}
	if vals[2] < 0 || vals[3] < 0 {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "r and tolerance must be >= 0")
		return
	}
	probe := vision.Probe{Origin: geom.Vec{X: vals[0], Y: vals[1]}, Radius: vals[2]}
	visible, known := s.coord.TestVisibility(probe, vals[3])
	writeJSON(rw, http.StatusOK, map[string]any{"known": known, "visible": visible})
}

type setBody struct {
	Known    bool    `json:"known"`
	ID       uint64  `json:"id"`
	Polygons int     `json:"polygons"`
	Area     float64 `json:"area"`
	VLQ      string  `json:"vlq"`
}

func (a *api) set(rw http.ResponseWriter, r *http.Request) {
	s, ok := a.session(rw, r)
	if !ok {
		return
	}
	ch := protocol.Vision
	get := s.coord.Vision
	if mux.Vars(r)["channel"] == protocol.TypeExplored {
		ch = protocol.Explored
		get = s.coord.Explored
	}
	set, known := get()
	out := setBody{Known: known, ID: s.coord.AppliedID(ch)}
	if known {
		out.Polygons = set.Len()
		out.Area = set.Area()
		out.VLQ = set.String()
	}
	writeJSON(rw, http.StatusOK, out)
}
