package feed

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"chartcore/config"
	"chartcore/internal/indicator"
	"chartcore/internal/metrics"
	"chartcore/internal/model"
)

const defaultSeriesLimit = 200

func (svc *Service) registerRoutes(srv *metrics.Server) {
	srv.Handle("/series", http.HandlerFunc(svc.handleSeries))
	srv.Handle("/reload", http.HandlerFunc(svc.handleReload))
	srv.Handle("/precision", http.HandlerFunc(svc.handlePrecision))
	srv.Handle("/marker", http.HandlerFunc(svc.handleMarker))
	srv.Handle("/ws", svc.hub)
}

type seriesResponse struct {
	Symbol      string          `json:"symbol"`
	Granularity string          `json:"granularity"`
	Precision   model.Precision `json:"precision"`
	Indicators  []string        `json:"indicators"`
	Total       int             `json:"total"`
	Samples     []SampleView    `json:"samples"`
}

// handleSeries handles GET /series?limit=N with the newest N samples, oldest
// first.
func (svc *Service) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultSeriesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var resp seriesResponse
	err := svc.do(r.Context(), func(p *Pipeline) {
		series := p.Series()
		resp = seriesResponse{
			Symbol:      series.Symbol(),
			Granularity: series.Granularity().String(),
			Precision:   series.Precision(),
			Indicators:  p.Engine().Names(),
			Total:       series.Len(),
		}
		samples := series.Samples()
		if len(samples) > limit {
			samples = samples[len(samples)-limit:]
		}
		resp.Samples = make([]SampleView, len(samples))
		for i, s := range samples {
			resp.Samples[i] = NewSampleView(s)
		}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReload handles POST /reload with a YAML indicator list in the body.
// An empty body re-reads the configured indicator file.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var configs []indicator.IndicatorConfig
	if len(body) == 0 {
		configs, err = config.LoadIndicators(svc.cfg.IndicatorsFile)
	} else {
		configs, err = config.ParseIndicators(body)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	added, removed, err := svc.Reload(r.Context(), configs)
	if err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"added":   added,
		"removed": removed,
	})
}

// handlePrecision handles POST /precision with {"quote_scale": 2, "base_scale": 4}.
func (svc *Service) handlePrecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var prec model.Precision
	if err := json.NewDecoder(r.Body).Decode(&prec); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	var (
		changed int
		perr    error
	)
	if err := svc.do(r.Context(), func(p *Pipeline) {
		changed, perr = p.SetPrecision(prec)
		if perr == nil && changed > 0 {
			svc.publishLast()
		}
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if perr != nil {
		http.Error(w, perr.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"changed": changed,
	})
}

type markerRequest struct {
	Time   time.Time `json:"time"`
	Marker string    `json:"marker"`
}

// handleMarker handles POST /marker with {"time": "...", "marker": "buy"}.
// The time is aligned to its bucket; "normal" clears the marker.
func (svc *Service) handleMarker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req markerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	marker, ok := model.ParseMarkerVariant(req.Marker)
	if !ok {
		http.Error(w, "unknown marker "+strconv.Quote(req.Marker), http.StatusBadRequest)
		return
	}

	found := false
	if err := svc.do(r.Context(), func(p *Pipeline) {
		series := p.Series()
		i := series.IndexOf(series.Granularity().Truncate(req.Time))
		if i < 0 {
			return
		}
		found = true
		s := series.At(i)
		if s.Marker() != marker {
			s.SetMarker(marker)
			svc.publishSample(s)
		}
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, "no sample at "+req.Time.UTC().Format(time.RFC3339), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"marker": marker.String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
