// Package api exposes the scoring engine over HTTP. Every endpoint runs
// under a caller consent context taken from request headers; the consent
// gate decides what each response may contain.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/consent"
	"github.com/justicehub-au/alma-engine/internal/refresh"
	"github.com/justicehub-au/alma-engine/internal/report"
	"github.com/justicehub-au/alma-engine/internal/store"
)

// Server wires the engine's components behind an HTTP API.
type Server struct {
	store     store.Store
	gate      *consent.Gate
	ledger    *consent.Ledger
	refresher *refresh.Refresher
	gaps      *report.GapReporter
	comparer  *report.Comparer
	exporter  *report.Exporter
	log       *zap.Logger

	httpServer *http.Server
}

// New returns a Server listening on the given port.
func New(
	st store.Store,
	gate *consent.Gate,
	ledger *consent.Ledger,
	refresher *refresh.Refresher,
	gaps *report.GapReporter,
	comparer *report.Comparer,
	exporter *report.Exporter,
	port int,
	allowedOrigins []string,
	log *zap.Logger,
) *Server {
	s := &Server{
		store:     st,
		gate:      gate,
		ledger:    ledger,
		refresher: refresher,
		gaps:      gaps,
		comparer:  comparer,
		exporter:  exporter,
		log:       log.Named("api"),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(allowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route tree. Exported so tests can drive it with
// httptest without binding a port.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", headerActor, headerRole},
	}))
	r.Use(s.callerContext)

	r.Get("/health", s.handleHealth)

	r.Get("/score/{id}", s.handleGetScore)
	r.Get("/score/{id}/history", s.handleScoreHistory)
	r.Post("/refresh", s.internalOnly(s.handleRefresh))

	r.Get("/gaps", s.handleGaps)
	r.Get("/overview", s.handleOverview)
	r.Get("/compare", s.handleCompare)
	r.Get("/export", s.handleExport)

	r.Post("/consent/grant", s.internalOnly(s.handleConsentGrant))
	r.Post("/consent/revoke", s.internalOnly(s.handleConsentRevoke))
	r.Get("/consent/{type}/{id}/history", s.internalOnly(s.handleConsentHistory))

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "api: listen")
	}
	return nil
}
