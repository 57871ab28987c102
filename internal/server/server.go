package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pulse-sentiment/apiserver/config"
	"github.com/pulse-sentiment/apiserver/internal/db"
	"github.com/pulse-sentiment/apiserver/internal/handlers"
	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/internal/metrics"
	"github.com/pulse-sentiment/apiserver/internal/mq"
	"github.com/pulse-sentiment/apiserver/internal/sentiment"
	"github.com/pulse-sentiment/apiserver/internal/services"
	"github.com/pulse-sentiment/apiserver/internal/social"
	"github.com/pulse-sentiment/apiserver/internal/store"
)

const (
	requestTimeout = 60 * time.Second
	cacheNamespace = "pulse:sentiment"
	limiterIdleTTL = 10 * time.Minute
	defaultPort    = 8080
	corsMaxAge     = 300
)

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sqlx.DB
	mq         *mq.MQ
	redis      *goredis.Client
	limiter    *handlers.RateLimiter
	logger     logging.Logger
}

// Deps are the collaborators the router is assembled from.
type Deps struct {
	Users       *services.UserService
	Tokens      *services.TokenIssuer
	OAuth       *services.OAuthExchanger
	Analyses    *services.AnalysisService
	Classifier  handlers.Classifier
	Searcher    handlers.Searcher
	Limiter     *handlers.RateLimiter
	Recorder    metrics.Recorder
	Gatherer    prometheus.Gatherer
	LoginTTL    time.Duration
	CORSOrigins []string
	Logger      logging.Logger
}

// New builds the full service stack from cfg.
func New(ctx context.Context, cfg config.Config, logger logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := social.ParseFailurePolicy(cfg.Twitter.FailurePolicy)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	tokens, err := services.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.DefaultTTL)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	analysisRepo := store.NewAnalysisRepository(dbConn)
	userService := services.NewUserService(userRepo, services.NewPasswordHasher(cfg.Auth.BcryptCost))

	var oauth *services.OAuthExchanger
	if cfg.Google.ClientID != "" {
		oauth = services.NewOAuthExchanger(services.OAuthConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		}, userService, tokens, cfg.Auth.AccessTokenTTL)
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set; google login disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	var classifier sentiment.Classifier = sentiment.NewInferenceClassifier(sentiment.InferenceConfig{
		BaseURL:  cfg.Sentiment.BaseURL,
		Model:    cfg.Sentiment.Model,
		APIToken: cfg.Sentiment.APIToken,
		Timeout:  cfg.Sentiment.Timeout,
	}, recorder)

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable; classifications will not be cached until it recovers")
		}
		classifier = sentiment.NewCachedClassifier(classifier, redisClient, cacheNamespace, cfg.Sentiment.CacheTTL, logger)
	}

	searcher := social.NewTwitterClient(social.TwitterConfig{
		BaseURL:       cfg.Twitter.BaseURL,
		BearerToken:   cfg.Twitter.BearerToken,
		Timeout:       cfg.Twitter.Timeout,
		FailurePolicy: policy,
		Breaker:       social.DefaultBreakerConfig(),
	}, classifier, logger, recorder)

	broker, err := mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}
	logger.WithField("backend", broker.Backend()).Info("analysis events configured")

	limiter := handlers.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, limiterIdleTTL, logger)

	router := NewRouter(Deps{
		Users:       userService,
		Tokens:      tokens,
		OAuth:       oauth,
		Analyses:    services.NewAnalysisService(analysisRepo, searcher, broker, cfg.MQ.Channel, logger),
		Classifier:  classifier,
		Searcher:    searcher,
		Limiter:     limiter,
		Recorder:    recorder,
		Gatherer:    registry,
		LoginTTL:    cfg.Auth.AccessTokenTTL,
		CORSOrigins: cfg.CORS.AllowedOrigins,
		Logger:      logger,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = defaultPort
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		mq:         broker,
		redis:      redisClient,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// NewRouter mounts every route on a fresh chi router.
func NewRouter(deps Deps) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(deps.Logger, deps.Recorder),
		middleware.Timeout(requestTimeout),
		cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           corsMaxAge,
		}),
	)

	authMiddleware := handlers.RequireAuth(deps.Tokens)

	router.Get("/healthz", handlers.Healthz)
	if deps.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, handlers.NewAuthHandler(deps.Users, deps.Tokens, deps.OAuth, deps.LoginTTL, deps.Logger))
	})
	router.Route("/analyze", func(r chi.Router) {
		handlers.AnalyzeRouter(r, handlers.NewAnalyzeHandler(deps.Classifier, deps.Searcher, deps.Logger))
	})
	router.Route("/analyses", func(r chi.Router) {
		handlers.AnalysesRouter(r, handlers.NewAnalysesHandler(deps.Analyses, deps.Users, deps.Logger), authMiddleware, deps.Limiter)
	})

	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases owned resources.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.mq != nil {
		if cerr := s.mq.Close(); cerr != nil {
			s.logger.WithError(cerr).Warn("close mq")
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
