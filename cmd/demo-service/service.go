package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Appointment is the resource the demo service creates.
type Appointment struct {
	UUID      string    `json:"uuid"`
	Patient   string    `json:"patient"`
	Slot      string    `json:"slot"`
	CreatedAt time.Time `json:"created_at"`
	ServedBy  string    `json:"served_by"`
}

type createAppointmentRequest struct {
	Patient string `json:"patient"`
	Slot    string `json:"slot"`
}

// newMux serves /appointments and /health. failRate in [0,1] makes that share
// of appointment requests answer 503 so retries and breakers can be watched.
func newMux(instanceID string, failRate float64, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /appointments", func(w http.ResponseWriter, r *http.Request) {
		if failRate > 0 && rand.Float64() < failRate {
			log.Warn("Injected failure", slog.String("path", r.URL.Path))
			http.Error(w, "injected failure", http.StatusServiceUnavailable)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		log.Info("Request received",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("trace_id", r.Header.Get("X-Trace-ID")))

		var req createAppointmentRequest
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}
		if req.Patient == "" {
			req.Patient = "anonymous"
		}

		writeJSON(w, http.StatusCreated, map[string]any{"appointment": Appointment{
			UUID:      uuid.NewString(),
			Patient:   req.Patient,
			Slot:      req.Slot,
			CreatedAt: time.Now().UTC(),
			ServedBy:  instanceID,
		}})
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "instance": instanceID})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
