package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/leonardo-dashboard/leonardo/cache"
	"github.com/leonardo-dashboard/leonardo/committee"
	"github.com/leonardo-dashboard/leonardo/lookup"
	"github.com/leonardo-dashboard/leonardo/util"
	"github.com/leonardo-dashboard/leonardo/util/cliutil"
	"github.com/leonardo-dashboard/leonardo/util/svcutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "leonardo",
		Usage:   "congressional representative lookup service",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL: redis://<user>:<pass>@<hostname>:6379/<db>",
			EnvVars: []string{"LEONARDO_REDIS_URL", "REDIS_URL"},
		},
		&cli.IntFlag{
			Name:    "cache-ttl",
			Usage:   "default cache entry expiry, in seconds",
			Value:   3600,
			EnvVars: []string{"LEONARDO_CACHE_TTL", "CACHE_TTL"},
		},
		&cli.DurationFlag{
			Name:    "cache-timeout",
			Usage:   "timeout for each cache store operation",
			Value:   2 * time.Second,
			EnvVars: []string{"LEONARDO_CACHE_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database for committee data (eg, sqlite://data/leonardo.sqlite); in-memory if not set",
			EnvVars: []string{"LEONARDO_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   20,
			EnvVars: []string{"LEONARDO_MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"LEONARDO_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		lookupCmd,
		importCommitteesCmd,
		clearCacheCmd,
	}

	return app.Run(args)
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the lookup API daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":8000",
			EnvVars: []string{"LEONARDO_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"LEONARDO_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "metrics-backend",
			Usage:   "where cache hit/miss counters are aggregated: memory (per-process) or redis (shared)",
			Value:   "memory",
			EnvVars: []string{"LEONARDO_METRICS_BACKEND"},
		},
		&cli.DurationFlag{
			Name:    "representative-ttl",
			Usage:   "expiry of cached representatives (default: cache-ttl)",
			EnvVars: []string{"LEONARDO_REPRESENTATIVE_TTL"},
		},
		&cli.DurationFlag{
			Name:    "committee-ttl",
			Usage:   "expiry of cached committee lists (default: cache-ttl)",
			EnvVars: []string{"LEONARDO_COMMITTEE_TTL"},
		},
		&cli.DurationFlag{
			Name:    "lookup-ttl",
			Usage:   "expiry of cached batch lookup results",
			Value:   time.Hour,
			EnvVars: []string{"LEONARDO_LOOKUP_TTL"},
		},
		&cli.StringFlag{
			Name:    "civic-api-url",
			Usage:   "base URL of the Google Civic Information API",
			Value:   "https://www.googleapis.com/civicinfo/v2",
			EnvVars: []string{"LEONARDO_CIVIC_API_URL", "GOOGLE_CIVIC_API_URL"},
		},
		&cli.StringFlag{
			Name:    "civic-api-key",
			Usage:   "API key for the Google Civic Information API",
			EnvVars: []string{"LEONARDO_CIVIC_API_KEY", "GOOGLE_CIVIC_API_KEY"},
		},
		&cli.IntFlag{
			Name:    "civic-rate-limit",
			Usage:   "max number of requests per second to the civic API (0 for no limit)",
			Value:   10,
			EnvVars: []string{"LEONARDO_CIVIC_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "committee-file",
			Usage:   "path to committee assignments JSON file",
			Value:   "data/committees.json",
			EnvVars: []string{"LEONARDO_COMMITTEE_FILE", "COMMITTEE_DATA_FILE"},
		},
		&cli.DurationFlag{
			Name:    "committee-refresh-interval",
			Usage:   "how often to check the committee file for changes (0 to disable)",
			Value:   5 * time.Minute,
			EnvVars: []string{"LEONARDO_COMMITTEE_REFRESH_INTERVAL"},
		},
		&cli.BoolFlag{
			Name:    "disable-refresh",
			Usage:   "disable the committee refresh admin API endpoint",
			EnvVars: []string{"LEONARDO_DISABLE_REFRESH"},
		},
	},
	Action: runServe,
}

func cacheTTL(cctx *cli.Context) (time.Duration, error) {
	ttl := cctx.Int("cache-ttl")
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: cache-ttl must be positive (got %d)", cache.ErrConfiguration, ttl)
	}
	return time.Duration(ttl) * time.Second, nil
}

func runServe(cctx *cli.Context) error {
	logger := svcutil.ConfigLogger(cctx, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := configOTEL(ctx, "leonardo")
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := shutdownOTEL(ctx); err != nil {
			slog.Error("failed to shutdown trace exporter", "error", err)
		}
	}()

	ttl, err := cacheTTL(cctx)
	if err != nil {
		return err
	}
	if cctx.Duration("cache-timeout") <= 0 {
		return fmt.Errorf("%w: cache-timeout must be positive", cache.ErrConfiguration)
	}

	srv, err := NewServer(Config{
		Logger:                   logger,
		Bind:                     cctx.String("bind"),
		RedisURL:                 cctx.String("redis-url"),
		CacheTTL:                 ttl,
		CacheTimeout:             cctx.Duration("cache-timeout"),
		RepresentativeTTL:        cctx.Duration("representative-ttl"),
		CommitteeTTL:             cctx.Duration("committee-ttl"),
		LookupTTL:                cctx.Duration("lookup-ttl"),
		MetricsBackend:           cctx.String("metrics-backend"),
		CivicHost:                cctx.String("civic-api-url"),
		CivicAPIKey:              cctx.String("civic-api-key"),
		CivicRateLimit:           cctx.Int("civic-rate-limit"),
		DatabaseURL:              cctx.String("database-url"),
		MaxDBConnections:         cctx.Int("max-db-connections"),
		CommitteeFile:            cctx.String("committee-file"),
		CommitteeRefreshInterval: cctx.Duration("committee-refresh-interval"),
		DisableRefresh:           cctx.Bool("disable-refresh"),
	})
	if err != nil {
		return fmt.Errorf("failed to construct server: %w", err)
	}

	// prometheus HTTP endpoint: /metrics
	go func() {
		if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
			slog.Error("failed to start metrics endpoint", "error", err)
			// NOTE: not crashing or halting process here
		}
	}()

	if err := srv.RunAPI(ctx); err != nil {
		return err
	}
	slog.Info("graceful shutdown complete")
	return nil
}

var lookupCmd = &cli.Command{
	Name:      "lookup",
	ArgsUsage: `<zip>...`,
	Usage:     "query service for representatives by ZIP code",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Usage:   "leonardo server to send request to",
			Value:   "http://localhost:8000",
			EnvVars: []string{"LEONARDO_HOST"},
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() == 0 {
			return fmt.Errorf("need to provide at least one ZIP code")
		}
		body, err := json.Marshal(LookupRequest{ZipCodes: cctx.Args().Slice()})
		if err != nil {
			return err
		}

		client := util.RobustHTTPClientWithLogger(slog.Default(), 1, 30*time.Second)
		url := strings.TrimSuffix(cctx.String("host"), "/") + "/lookup"
		req, err := http.NewRequestWithContext(cctx.Context, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("lookup request failed (code %d): %s", resp.StatusCode, string(respBody))
		}

		var out bytes.Buffer
		if err := json.Indent(&out, respBody, "", "  "); err != nil {
			return err
		}
		fmt.Println(out.String())
		return nil
	},
}

var importCommitteesCmd = &cli.Command{
	Name:      "import-committees",
	ArgsUsage: `<file>`,
	Usage:     "load committee assignments JSON into the database, and invalidate cached committee data",
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		logger := svcutil.ConfigLogger(cctx, os.Stderr)

		path := cctx.Args().First()
		if path == "" {
			return fmt.Errorf("need to provide committee JSON file path")
		}
		if cctx.String("database-url") == "" {
			return fmt.Errorf("database-url is required for import")
		}

		a, err := committee.LoadFile(path)
		if err != nil {
			return err
		}
		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		store, err := committee.NewDBStore(db)
		if err != nil {
			return err
		}
		if err := store.Replace(ctx, a); err != nil {
			return err
		}
		logger.Info("imported committee data", "committees", len(a), "assignments", a.Len())

		if cctx.String("redis-url") == "" {
			return nil
		}
		svc, err := configCache(cctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		for _, pattern := range []string{lookup.CommitteePattern, lookup.LookupPattern} {
			n, res := svc.Clear(ctx, pattern)
			if res.Failed() {
				return fmt.Errorf("invalidating %s: %w", pattern, res.Err)
			}
			logger.Info("invalidated cache namespace", "pattern", pattern, "keys", n)
		}
		return nil
	},
}

var clearCacheCmd = &cli.Command{
	Name:      "clear-cache",
	ArgsUsage: `[<pattern>]`,
	Usage:     "delete cache entries matching a pattern (eg, 'rep:*'); all entries if no pattern given",
	Action: func(cctx *cli.Context) error {
		svcutil.ConfigLogger(cctx, os.Stderr)
		if cctx.String("redis-url") == "" {
			return fmt.Errorf("redis-url is required")
		}
		svc, err := configCache(cctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		n, res := svc.Clear(cctx.Context, cctx.Args().First())
		if res.Failed() {
			return res.Err
		}
		fmt.Printf("deleted %d keys\n", n)
		return nil
	},
}

func configCache(cctx *cli.Context) (*cache.Service, error) {
	ttl, err := cacheTTL(cctx)
	if err != nil {
		return nil, err
	}
	store, err := cache.NewRedisStore(cctx.String("redis-url"))
	if err != nil {
		return nil, err
	}
	return cache.NewService(store, cache.Config{
		DefaultTTL: ttl,
		OpTimeout:  cctx.Duration("cache-timeout"),
	})
}
