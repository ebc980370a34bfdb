package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/mining"
	"github.com/fyrsmithlabs/patternd/internal/sanitize"
)

const userKey = "user_id"

// requireUser rejects API requests without a valid user header and adds the
// user to the request context.
func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := c.Request().Header.Get(HeaderUserID)
		if user == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, HeaderUserID+" header is required")
		}
		if err := sanitize.ValidateUserID(user); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		c.Set(userKey, user)
		c.SetRequest(c.Request().WithContext(logging.WithUserID(c.Request().Context(), user)))
		return next(c)
	}
}

func userID(c echo.Context) string {
	s, _ := c.Get(userKey).(string)
	return s
}

// mapError translates domain errors into HTTP errors.
func (s *Server) mapError(c echo.Context, op string, err error) error {
	switch {
	case lifecycle.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	case errors.Is(err, mining.ErrUnknownUser):
		return echo.NewHTTPError(http.StatusNotFound, "unknown user")
	case errors.Is(err, lifecycle.ErrEmptyUserID),
		errors.Is(err, lifecycle.ErrEmptyPatternID),
		errors.Is(err, lifecycle.ErrInvalidEvidence):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.logger.Error(c.Request().Context(), op+" failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.tel != nil {
		status := s.tel()
		resp.Telemetry = &status
	}
	if s.ping != nil {
		if err := s.ping(c.Request().Context()); err != nil {
			s.logger.Warn(c.Request().Context(), "health check failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListPatterns(c echo.Context) error {
	var (
		minConfidence, minImpact float64
		includeArchived          bool
	)
	err := echo.QueryParamsBinder(c).
		Float64("min_confidence", &minConfidence).
		Float64("min_impact", &minImpact).
		Bool("include_archived", &includeArchived).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	if minConfidence < 0 || minConfidence > 1 || minImpact < 0 || minImpact > 100 {
		return echo.NewHTTPError(http.StatusBadRequest, "min_confidence must be in [0,1] and min_impact in [0,100]")
	}

	patterns, err := s.patterns.GetPatterns(c.Request().Context(), userID(c), minConfidence, minImpact, includeArchived)
	if err != nil {
		return s.mapError(c, "list patterns", err)
	}
	if patterns == nil {
		patterns = []lifecycle.DiscoveredPattern{}
	}
	return c.JSON(http.StatusOK, PatternsResponse{Patterns: patterns, Count: len(patterns)})
}

func (s *Server) handleGetPattern(c echo.Context) error {
	p, err := s.patterns.GetPattern(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.mapError(c, "get pattern", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleNeedingFeedback(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	summaries, err := s.patterns.GetPatternsNeedingFeedback(c.Request().Context(), userID(c), limit)
	if err != nil {
		return s.mapError(c, "list feedback candidates", err)
	}
	return c.JSON(http.StatusOK, FeedbackCandidatesResponse{Patterns: summaries})
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid feedback request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Helpful == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "helpful field is required")
	}

	res, err := s.patterns.SubmitFeedback(c.Request().Context(), userID(c), c.Param("id"), *req.Helpful, req.Comment)
	if err != nil {
		return s.mapError(c, "submit feedback", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSurface(c echo.Context) error {
	if s.surfacer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "surfacing is not configured")
	}
	var req SurfaceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}
	now := s.now()
	if req.Now != "" {
		t, err := time.Parse(time.RFC3339, req.Now)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "now must be RFC3339")
		}
		now = t
	}

	d, ok, err := s.surfacer.Surface(c.Request().Context(), userID(c), req.Message, now)
	if err != nil {
		return s.mapError(c, "surface pattern", err)
	}
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleRunMining(c echo.Context) error {
	if s.miner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "mining is not configured")
	}
	summary, err := s.miner.RunCycle(c.Request().Context(), userID(c))
	if err != nil {
		return s.mapError(c, "run mining cycle", err)
	}
	return c.JSON(http.StatusOK, summary)
}
