package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/incubator-controller/internal/state"
)

// MaxSnapshotAge is how old the latest snapshot may be before /healthz reports unhealthy.
var MaxSnapshotAge = 10 * time.Second

type health struct {
	Status string    `json:"status"`
	Tick   uint64    `json:"tick"`
	Taken  time.Time `json:"taken_at,omitempty"`
}

// NewRouter serves /metrics from gatherer and /healthz from the channel.
func NewRouter(gatherer prometheus.Gatherer, ch *state.Channel) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(ch, time.Now)).Methods(http.MethodGet)
	return r
}

func healthHandler(ch *state.Channel, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		snap := ch.Latest()
		if snap == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(health{Status: "starting"})
			return
		}
		h := health{Status: "ok", Tick: snap.Tick(), Taken: snap.TakenAt()}
		if now().Sub(snap.TakenAt()) > MaxSnapshotAge {
			h.Status = "stale"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}
}

// Serve runs the ops listener until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, ch *state.Channel) error {
	h := handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stderr, NewRouter(gatherer, ch)))
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", addr).Msg("Starting metrics listener")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
