package health

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mount registers /healthz, /readyz, /health and /health/{name} on r.
func Mount(r chi.Router, agg *Aggregator) {
	r.Get("/healthz", Liveness)
	r.Get("/readyz", ReadinessHandler(agg))
	r.Get("/health", ReportHandler(agg))
	r.Get("/health/{name}", CheckHandler(agg))
}

// Liveness always answers 200 "ok".
func Liveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler answers 200 unless the aggregate is unhealthy.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := agg.Run(r.Context())
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(statusCode(report.Status))
		_, _ = w.Write([]byte(report.Status.String()))
	}
}

// ReportHandler answers the full report as JSON.
func ReportHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := agg.Run(r.Context())
		writeJSON(w, statusCode(report.Status), report)
	}
}

// CheckHandler runs the checker named by the {name} URL parameter.
func CheckHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := agg.Check(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, statusCode(res.Status), res)
	}
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
