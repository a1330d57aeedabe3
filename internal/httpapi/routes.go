package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/auction-backend/internal/engine"
	"github.com/DoyleJ11/auction-backend/internal/hub"
	"github.com/DoyleJ11/auction-backend/internal/importer"
	"github.com/DoyleJ11/auction-backend/internal/metrics"
	"github.com/DoyleJ11/auction-backend/internal/ws"
)

// Deps bundles everything the router needs. Populated once in main.
type Deps struct {
	Hub      *hub.Hub
	Importer *importer.Importer
	Resolver *importer.ChannelResolver
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// Rules applied to new auctions unless the request overrides them.
	Rules engine.Rules
	WS    ws.Options
}

func SetupRoutes(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger.Named("http")))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	r.Get("/ws", ws.Handler(deps.Hub, deps.WS))

	r.Route("/auctions", func(r chi.Router) {
		r.Get("/", ListAuctions(deps.Hub))
		r.Post("/", CreateAuction(deps.Hub, deps.Rules))
		r.Route("/{auctionID}", func(r chi.Router) {
			r.Get("/", GetAuction(deps.Hub))
			r.Post("/players", ImportPlayers(deps.Hub, deps.Importer))
			r.Get("/decisions", ListDecisions(deps.Hub, deps.Resolver))
			r.Post("/decisions/{requestID}", AnswerDecision(deps.Resolver))
		})
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
