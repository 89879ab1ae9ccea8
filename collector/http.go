package collector

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/vinayprograms/activitykit/bus"
	"github.com/vinayprograms/activitykit/errors"
	"github.com/vinayprograms/activitykit/telemetry"
)

// Handler returns the collector's HTTP routes.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", c.handleEvents)
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", c.metrics.Handler())
	return mux
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (c *Collector) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			c.metrics.reject("too_large")
			http.Error(w, "Body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	ctx := telemetry.ExtractHTTP(r.Context(), r.Header)
	_, err = c.Ingest(ctx, SourceHTTP, r.Header.Get(bus.HeaderBatchID), body)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, errors.ErrCodeInvalidInput):
		http.Error(w, "Invalid batch: "+err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Failed to store events", http.StatusInternalServerError)
	}
}
