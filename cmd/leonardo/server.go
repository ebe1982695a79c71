package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leonardo-dashboard/leonardo/cache"
	"github.com/leonardo-dashboard/leonardo/civic"
	"github.com/leonardo-dashboard/leonardo/committee"
	"github.com/leonardo-dashboard/leonardo/lookup"
	"github.com/leonardo-dashboard/leonardo/metrics"
	"github.com/leonardo-dashboard/leonardo/util"
	"github.com/leonardo-dashboard/leonardo/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger

	cache         *cache.Service
	lookup        *lookup.Service
	recorder      *metrics.Recorder
	redisRecorder *metrics.RedisRecorder
	refresher     *lookup.Refresher

	committeeFile  string
	disableRefresh bool
	requestTimeout time.Duration
}

type Config struct {
	Logger *slog.Logger
	Bind   string

	// Empty means an in-process cache, which is not shared between replicas.
	RedisURL          string
	CacheTTL          time.Duration
	CacheTimeout      time.Duration
	RepresentativeTTL time.Duration
	CommitteeTTL      time.Duration
	LookupTTL         time.Duration
	// "memory" or "redis"
	MetricsBackend string

	CivicHost      string
	CivicAPIKey    string
	CivicRateLimit int

	// Empty means committee data is only held in memory.
	DatabaseURL              string
	MaxDBConnections         int
	CommitteeFile            string
	CommitteeRefreshInterval time.Duration

	DisableRefresh bool
	RequestTimeout time.Duration
}

// Builds the cache and all the services behind the API, from process configuration.
func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var store cache.Store
	var redisStore *cache.RedisStore
	if config.RedisURL != "" {
		rs, err := cache.NewRedisStore(config.RedisURL)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rs.Connect(ctx); err != nil {
			// the cache is optional; lookups fall through to the civic API until it comes back
			logger.Warn("redis not reachable at startup", "err", err)
		}
		store = rs
		redisStore = rs
	} else {
		logger.Warn("no redis URL configured, using in-process cache")
		ms, err := cache.NewMemStore(100_000)
		if err != nil {
			return nil, err
		}
		store = ms
	}

	recorder := metrics.NewRecorder()
	var hook cache.MetricsHook = recorder
	var redisRecorder *metrics.RedisRecorder
	switch config.MetricsBackend {
	case "", "memory":
	case "redis":
		if redisStore == nil {
			return nil, fmt.Errorf("%w: redis metrics backend requires a redis URL", cache.ErrConfiguration)
		}
		redisRecorder = metrics.NewRedisRecorder(redisStore.Client(), logger, 0)
		hook = redisRecorder
	default:
		return nil, fmt.Errorf("%w: unknown metrics backend: %q", cache.ErrConfiguration, config.MetricsBackend)
	}

	cacheSvc, err := cache.NewService(store, cache.Config{
		Logger:     logger,
		DefaultTTL: config.CacheTTL,
		OpTimeout:  config.CacheTimeout,
		Metrics:    hook,
	})
	if err != nil {
		return nil, err
	}

	civicClient := civic.NewClient(config.CivicHost, config.CivicAPIKey)
	civicClient.HTTPClient = util.RobustHTTPClientWithLogger(logger, 2, 15*time.Second)
	civicClient.Logger = logger.With("component", "civic")
	civicClient.Recorder = recorder
	if config.CivicRateLimit > 0 {
		civicClient.Limiter = rate.NewLimiter(rate.Limit(config.CivicRateLimit), 1)
	}

	var committees committee.Store = committee.NewMemStore()
	if config.DatabaseURL != "" {
		db, err := cliutil.SetupDatabase(config.DatabaseURL, config.MaxDBConnections)
		if err != nil {
			return nil, fmt.Errorf("setting up database: %w", err)
		}
		if err := cliutil.EnableTracing(db); err != nil {
			return nil, fmt.Errorf("enabling database tracing: %w", err)
		}
		dbStore, err := committee.NewDBStore(db)
		if err != nil {
			return nil, err
		}
		committees = dbStore
	}

	lookupSvc, err := lookup.New(lookup.Config{
		Cache:             cacheSvc,
		Source:            civicClient,
		Committees:        committees,
		Logger:            logger,
		RepresentativeTTL: config.RepresentativeTTL,
		CommitteeTTL:      config.CommitteeTTL,
		LookupTTL:         config.LookupTTL,
		Version:           versioninfo.Short(),
	})
	if err != nil {
		return nil, err
	}

	srv := newServer(logger, config.Bind, cacheSvc, lookupSvc, recorder)
	srv.redisRecorder = redisRecorder
	srv.committeeFile = config.CommitteeFile
	srv.disableRefresh = config.DisableRefresh
	if config.RequestTimeout > 0 {
		srv.requestTimeout = config.RequestTimeout
	}
	if config.CommitteeFile != "" && config.CommitteeRefreshInterval > 0 {
		srv.refresher = lookup.NewRefresher(lookupSvc, config.CommitteeFile, config.CommitteeRefreshInterval)
		srv.refresher.Logger = logger.With("component", "refresher", "path", config.CommitteeFile)
	} else if config.CommitteeFile != "" {
		// no periodic refresh; load once
		a, err := committee.LoadFile(config.CommitteeFile)
		if err != nil {
			logger.Warn("failed to load committee data", "path", config.CommitteeFile, "err", err)
		} else if err := lookupSvc.RefreshCommittees(context.Background(), a); err != nil {
			return nil, err
		}
	}
	return srv, nil
}

func newServer(logger *slog.Logger, bind string, cacheSvc *cache.Service, lookupSvc *lookup.Service, recorder *metrics.Recorder) *Server {
	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:           e,
		logger:         logger,
		cache:          cacheSvc,
		lookup:         lookupSvc,
		recorder:       recorder,
		requestTimeout: 30 * time.Second,
	}
	srv.httpd = &http.Server{
		Handler:        otelhttp.NewHandler(srv, "leonardo"),
		Addr:           bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(httpMetrics)
	e.Use(middleware.BodyLimit("1M"))
	e.Use(srv.timingMiddleware)
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/", srv.WebHome)
	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/health", srv.HandleHealth)
	e.POST("/lookup", srv.HandleLookup)
	e.GET("/representative/:zip", srv.HandleRepresentative)
	e.GET("/stats", srv.HandleStats)
	e.POST("/admin/refresh-committees", srv.HandleRefreshCommittees)

	return srv
}

// Records request durations and failures, except for health and metrics endpoints.
func (srv *Server) timingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Path()
		if path == "/_health" || path == "/health" || strings.HasPrefix(path, "/metrics") {
			return next(c)
		}
		start := time.Now()
		err := next(c)
		srv.recorder.RecordRequestTime(path, time.Since(start))

		status := c.Response().Status
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		} else if err != nil {
			status = http.StatusInternalServerError
		}
		if status >= 500 {
			srv.recorder.RecordError()
		}
		return err
	}
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("leonardo-http-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	if err := c.JSON(code, GenericError{Error: http.StatusText(code), Message: msg}); err != nil {
		srv.logger.Error("failed to write error response", "err", err)
	}
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Runs the API server, and background workers (committee file refresh, redis metrics flush), until the context is cancelled.
func (srv *Server) RunAPI(ctx context.Context) error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)

	errs, ctx := errgroup.WithContext(ctx)
	errs.Go(func() error {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	})
	if srv.refresher != nil {
		errs.Go(func() error {
			return srv.refresher.Run(ctx)
		})
	}
	if srv.redisRecorder != nil {
		errs.Go(func() error {
			return srv.redisRecorder.Run(ctx)
		})
	}
	errs.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown()
	})
	err := errs.Wait()

	// after the workers, since the redis metrics backend flushes on exit
	if cerr := srv.cache.Close(); cerr != nil {
		srv.logger.Warn("failed to close cache store", "err", cerr)
	}
	return err
}

func (srv *Server) RunMetrics(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, mux)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
