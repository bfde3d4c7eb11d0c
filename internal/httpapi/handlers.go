package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tradesys/regime/internal/regime"
)

type predictRequest struct {
	// Named feature values; every required feature must be present.
	Features map[string]float64 `json:"features"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	detector, err := s.factory.Active()
	if err != nil {
		s.telemetry.PredictionErrors.WithLabelValues("configuration").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Order the named values per the detector's required layout; a
	// missing name is invalid input, same as a wrong-arity vector.
	required := detector.RequiredFeatures()
	vector := make([]float64, 0, len(required))
	for _, name := range required {
		v, ok := req.Features[name]
		if !ok {
			s.telemetry.PredictionErrors.WithLabelValues("invalid_features").Inc()
			writeError(w, http.StatusBadRequest, "missing feature "+name)
			return
		}
		vector = append(vector, v)
	}

	if s.cache != nil {
		if pred, ok := s.cache.Get(r.Context(), detector.ModelID(), vector); ok {
			s.telemetry.CacheHits.Inc()
			writeJSON(w, http.StatusOK, pred)
			return
		}
		s.telemetry.CacheMisses.Inc()
	}

	pred, err := detector.Predict(vector)
	if err != nil {
		switch {
		case errors.Is(err, regime.ErrInvalidFeatures):
			s.telemetry.PredictionErrors.WithLabelValues("invalid_features").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, regime.ErrModelNotFitted):
			s.telemetry.PredictionErrors.WithLabelValues("not_fitted").Inc()
			writeError(w, http.StatusServiceUnavailable, "no trained model available")
		default:
			s.telemetry.PredictionErrors.WithLabelValues("internal").Inc()
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.telemetry.ObservePrediction(s.factory.ActiveType(), string(pred.Label), pred.Latency)
	if s.cache != nil {
		s.cache.Put(r.Context(), vector, pred)
	}

	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	detector, err := s.factory.Active()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics := detector.Metrics()
	if metrics.Converged {
		s.telemetry.ModelConverged.Set(1)
	} else {
		s.telemetry.ModelConverged.Set(0)
	}
	if !metrics.TrainedAt.IsZero() {
		s.telemetry.ModelTrainedAt.Set(float64(metrics.TrainedAt.Unix()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":      s.factory.ActiveType(),
		"model_id":  detector.ModelID(),
		"is_fitted": detector.IsFitted(),
		"features":  detector.RequiredFeatures(),
		"metrics":   metrics,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
