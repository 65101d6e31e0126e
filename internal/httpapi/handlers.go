package httpapi

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kstaniek/cz2gate/internal/bus"
	"github.com/kstaniek/cz2gate/internal/errs"
	"github.com/kstaniek/cz2gate/internal/events"
	"github.com/kstaniek/cz2gate/internal/hvac"
	"github.com/kstaniek/cz2gate/internal/model"
)

// decodeBody unmarshals r.Body into dst, wrapping any decode failure as
// a validation error so it reads as 422 rather than 500.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	return nil
}

func queryFlag(r *http.Request, name, truthy string) bool {
	return r.URL.Query().Get(name) == truthy
}

// writeStatus renders a (status, meta) pair either as the flat legacy
// payload or the {status, meta} envelope, per the flat query flag.
func writeStatus(w http.ResponseWriter, status model.SystemStatus, meta model.CacheMeta, flat, includeRaw bool) {
	if flat {
		writeJSON(w, http.StatusOK, status.ToFlat(includeRaw, time.Now()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "meta": meta})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	flat := queryFlag(r, "flat", "1")
	force := queryFlag(r, "force", "true")
	raw := queryFlag(r, "raw", "1")

	status, meta, err := s.hvacSvc.GetStatus(force, raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, status, meta, flat, raw)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	flat := queryFlag(r, "flat", "1")
	raw := queryFlag(r, "raw", "1")

	status, meta, err := s.hvacSvc.GetStatus(true, raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, status, meta, flat, raw)
}

func (s *Server) handleStatusLive(w http.ResponseWriter, r *http.Request) {
	flat := queryFlag(r, "flat", "1")
	raw := queryFlag(r, "raw", "1")

	status, meta, err := s.hvacSvc.GetStatus(true, raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, status, meta, flat, raw)
}

type systemModeRequest struct {
	Mode string `json:"mode"`
	All  *bool  `json:"all"`
}

func (s *Server) handleSetSystemMode(w http.ResponseWriter, r *http.Request) {
	var req systemModeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode, err := parseSystemMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	status, meta, err := s.hvacSvc.ExecuteCommand(r.Context(), hvac.Command{
		Op:           hvac.OpSetSystemMode,
		Mode:         &mode,
		AllZonesMode: req.All,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, status, meta, queryFlag(r, "flat", "1"), false)
}

type systemFanRequest struct {
	Fan string `json:"fan"`
}

func (s *Server) handleSetFanMode(w http.ResponseWriter, r *http.Request) {
	var req systemFanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	fan, err := parseFanMode(req.Fan)
	if err != nil {
		writeError(w, err)
		return
	}
	status, meta, err := s.hvacSvc.ExecuteCommand(r.Context(), hvac.Command{
		Op:      hvac.OpSetFanMode,
		FanMode: &fan,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, status, meta, queryFlag(r, "flat", "1"), false)
}

type zoneTemperatureRequest struct {
	Heat *int  `json:"heat"`
	Cool *int  `json:"cool"`
	Temp *bool `json:"temp"`
	Hold *bool `json:"hold"`
	Out  *bool `json:"out"`
}

func pathZoneID(r *http.Request) (int, error) {
	zoneID, err := strconv.Atoi(r.PathValue("zone_id"))
	if err != nil {
		return 0, fmt.Errorf("%w: zone_id must be an integer", errs.ErrValidation)
	}
	return zoneID, nil
}

func (s *Server) handleZoneTemperature(w http.ResponseWriter, r *http.Request) {
	zoneID, err := pathZoneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := validateZone(zoneID, s.zoneCount); err != nil {
		writeError(w, err)
		return
	}
	var req zoneTemperatureRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateSetpoints(req.Heat, req.Cool); err != nil {
		writeError(w, err)
		return
	}
	status, meta, err := s.hvacSvc.ExecuteCommand(r.Context(), hvac.Command{
		Op:    hvac.OpSetZoneSetpoints,
		Zones: []int{zoneID},
		ZoneArgs: bus.ZoneSetpointArgs{
			Heat: req.Heat, Cool: req.Cool, Temporary: req.Temp, Hold: req.Hold, Out: req.Out,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, status, meta, queryFlag(r, "flat", "1"), false)
}

type batchZoneTemperatureRequest struct {
	Zones []int `json:"zones"`
	Heat  *int  `json:"heat"`
	Cool  *int  `json:"cool"`
	Temp  *bool `json:"temp"`
	Hold  *bool `json:"hold"`
	Out   *bool `json:"out"`
}

func (s *Server) handleBatchZoneTemperature(w http.ResponseWriter, r *http.Request) {
	var req batchZoneTemperatureRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateZones(req.Zones, s.zoneCount); err != nil {
		writeError(w, err)
		return
	}
	if err := validateSetpoints(req.Heat, req.Cool); err != nil {
		writeError(w, err)
		return
	}
	status, meta, err := s.hvacSvc.ExecuteCommand(r.Context(), hvac.Command{
		Op:    hvac.OpSetZoneSetpoints,
		Zones: req.Zones,
		ZoneArgs: bus.ZoneSetpointArgs{
			Heat: req.Heat, Cool: req.Cool, Temporary: req.Temp, Hold: req.Hold, Out: req.Out,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, status, meta, queryFlag(r, "flat", "1"), false)
}

type zoneHoldRequest struct {
	Hold *bool `json:"hold"`
	Temp *bool `json:"temp"`
}

func (s *Server) handleZoneHold(w http.ResponseWriter, r *http.Request) {
	zoneID, err := pathZoneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := validateZone(zoneID, s.zoneCount); err != nil {
		writeError(w, err)
		return
	}
	var req zoneHoldRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	status, meta, err := s.hvacSvc.ExecuteCommand(r.Context(), hvac.Command{
		Op:    hvac.OpSetZoneSetpoints,
		Zones: []int{zoneID},
		ZoneArgs: bus.ZoneSetpointArgs{
			Hold: req.Hold, Temporary: req.Temp,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, status, meta, queryFlag(r, "flat", "1"), false)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if !s.cacheRoutesEnabled {
		writeError(w, fmt.Errorf("%w: cache routes disabled", errs.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, s.cacheRef.GetStats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if !s.cacheRoutesEnabled {
		writeError(w, fmt.Errorf("%w: cache routes disabled", errs.ErrNotFound))
		return
	}
	s.cacheRef.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.sseEnabled {
		writeError(w, fmt.Errorf("%w: sse disabled", errs.ErrNotFound))
		return
	}
	sub, err := s.eventsMgr.Subscribe(clientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	out := make(chan events.Event, 4)
	go s.eventsMgr.Stream(r.Context(), sub, out)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-out:
			if !ok {
				return
			}
			writeSSEEvent(w, ev)
			if canFlush {
				flusher.Flush()
			}
			if ev.Terminate {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev events.Event) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, payload)
}

func (s *Server) handleSSEStats(w http.ResponseWriter, r *http.Request) {
	if !s.sseEnabled {
		writeError(w, fmt.Errorf("%w: sse disabled", errs.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, s.eventsMgr.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.cacheRef.GetStats()
	subCount := 0
	if s.sseEnabled && s.eventsMgr != nil {
		subCount = s.eventsMgr.Stats().SubscriberCount
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"bus_connected":    stats.Connected,
		"cache_stale":      stats.IsStale,
		"subscriber_count": subCount,
	})
}
