package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/leonardo-dashboard/leonardo/civic"
	"github.com/leonardo-dashboard/leonardo/committee"
	"github.com/leonardo-dashboard/leonardo/lookup"
	"github.com/leonardo-dashboard/leonardo/metrics"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

type LookupRequest struct {
	ZipCodes []string `json:"zip_codes"`
}

type StatsResponse struct {
	RequestsTotal       any       `json:"requests_total"`
	AverageResponseTime any       `json:"average_response_time"`
	ErrorRate           any       `json:"error_rate"`
	CacheHitRate        any       `json:"cache_hit_rate"`
	CacheHits           any       `json:"cache_hits"`
	CacheMisses         any       `json:"cache_misses"`
	Timestamp           time.Time `json:"timestamp"`
}

// Translates lookup errors to JSON error responses.
func lookupError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, lookup.ErrInvalidZIP):
		return c.JSON(http.StatusBadRequest, GenericError{Error: "InvalidZipCode", Message: err.Error()})
	case errors.Is(err, lookup.ErrNoZIPs), errors.Is(err, lookup.ErrTooManyZIPs):
		return c.JSON(http.StatusBadRequest, GenericError{Error: "BadRequest", Message: err.Error()})
	case errors.Is(err, lookup.ErrNotFound):
		return c.JSON(http.StatusNotFound, GenericError{Error: "RepresentativeNotFound", Message: lookup.NotFoundMessage})
	case errors.Is(err, civic.ErrUpstream):
		return c.JSON(http.StatusBadGateway, GenericError{Error: "UpstreamError", Message: "civic data provider request failed"})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, GenericError{Error: "Timeout", Message: "lookup timed out"})
	default:
		return fmt.Errorf("lookup failed: %w", err)
	}
}

// POST /lookup
func (srv *Server) HandleLookup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), srv.requestTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "HandleLookup")
	defer span.End()

	var req LookupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "BadRequest",
			Message: "expected JSON body with zip_codes list",
		})
	}
	span.SetAttributes(attribute.Int("zip_codes", len(req.ZipCodes)))
	batchSize.Observe(float64(len(req.ZipCodes)))

	results, err := srv.lookup.Lookup(ctx, req.ZipCodes)
	if err != nil {
		if !errors.Is(err, lookup.ErrInvalidZIP) && !errors.Is(err, lookup.ErrNoZIPs) && !errors.Is(err, lookup.ErrTooManyZIPs) {
			srv.logger.Warn("batch lookup failed", "zips", req.ZipCodes, "err", err)
		}
		return lookupError(c, err)
	}
	return c.JSON(http.StatusOK, results)
}

// GET /representative/:zip
func (srv *Server) HandleRepresentative(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), srv.requestTimeout)
	defer cancel()

	zip := strings.TrimSpace(c.Param("zip"))
	rep, err := srv.lookup.Representative(ctx, zip)
	if err != nil {
		return lookupError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// GET /health
func (srv *Server) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	h := srv.lookup.Health(ctx)
	if !h.Healthy {
		return c.JSON(http.StatusServiceUnavailable, h)
	}
	return c.JSON(http.StatusOK, h)
}

// GET /stats
//
// Cache figures come through the cache's metrics hook, so reflect every replica when the redis metrics backend is in use.
func (srv *Server) HandleStats(c echo.Context) error {
	ctx := c.Request().Context()
	cacheMetric := func(name string) any {
		v, ok := srv.cache.GetMetric(ctx, name)
		if !ok {
			return nil
		}
		return v
	}
	summary := srv.recorder.Snapshot()
	return c.JSON(http.StatusOK, StatsResponse{
		RequestsTotal:       summary.RequestsTotal,
		AverageResponseTime: summary.AverageResponseTime,
		ErrorRate:           summary.ErrorRate,
		CacheHitRate:        cacheMetric(metrics.MetricCacheHitRate),
		CacheHits:           cacheMetric(metrics.MetricCacheHits),
		CacheMisses:         cacheMetric(metrics.MetricCacheMisses),
		Timestamp:           summary.Timestamp,
	})
}

// POST /admin/refresh-committees
//
// Replaces committee data with the JSON request body if there is one, otherwise reloads the configured committee file.
func (srv *Server) HandleRefreshCommittees(c echo.Context) error {
	if srv.disableRefresh {
		return c.JSON(http.StatusForbidden, GenericError{
			Error:   "RefreshDisabled",
			Message: "committee refresh is disabled on this server",
		})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), srv.requestTimeout)
	defer cancel()

	var a committee.Assignments
	var err error
	if c.Request().ContentLength > 0 {
		a, err = committee.ParseAssignments(c.Request().Body)
	} else if srv.committeeFile != "" {
		a, err = committee.LoadFile(srv.committeeFile)
	} else {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "BadRequest",
			Message: "no committee data in request, and no committee file configured",
		})
	}
	if err != nil {
		committeeImports.WithLabelValues("invalid").Inc()
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "InvalidCommitteeData",
			Message: err.Error(),
		})
	}

	if err := srv.lookup.RefreshCommittees(ctx, a); err != nil {
		committeeImports.WithLabelValues("error").Inc()
		return fmt.Errorf("refreshing committees: %w", err)
	}
	committeeImports.WithLabelValues("success").Inc()
	return c.JSON(http.StatusOK, GenericStatus{
		Daemon:  "leonardo",
		Status:  "ok",
		Message: fmt.Sprintf("loaded %d committees", len(a)),
	})
}

// GET /_health
func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "leonardo"})
}

// GET /
func (srv *Server) WebHome(c echo.Context) error {
	return c.String(http.StatusOK, `
leonardo

This is a congressional representative lookup service

  POST /lookup                  {"zip_codes": ["20001"]}
  GET  /representative/:zip
  GET  /health
  GET  /stats
	`)
}
