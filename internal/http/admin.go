package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/auth"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 1000
)

func (s *Server) handleAdminStats(c echo.Context) error {
	ctx := c.Request().Context()
	sessions := s.engine.Sessions(ctx)
	if sessions == nil {
		sessions = []vectorstore.SessionInfo{}
	}
	return c.JSON(http.StatusOK, AdminStatsResponse{
		Stats:    s.engine.Stats(ctx),
		Sessions: sessions,
	})
}

// handleActivity returns the most recent queries, newest first.
func (s *Server) handleActivity(c echo.Context) error {
	limit := defaultActivityLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxActivityLimit)
	}
	entries := s.engine.RecentQueries(limit)
	if entries == nil {
		entries = []vectorstore.QueryLogEntry{}
	}
	return c.JSON(http.StatusOK, ActivityResponse{Entries: entries, Count: len(entries)})
}

// handleClear empties one scope, or every scope when none is named. For
// personal, ?session_id= narrows the clear to one session.
func (s *Server) handleClear(c echo.Context) error {
	ctx := c.Request().Context()
	kind := vectorstore.ScopeAny
	if name := c.Param("scope"); name != "" && name != "all" {
		k, err := vectorstore.ParseScopeKind(name)
		if err != nil {
			return err
		}
		kind = k
	}
	sessionID := ""
	if kind == vectorstore.ScopePersonal {
		sessionID = c.QueryParam("session_id")
	}

	res, err := s.engine.Clear(ctx, kind, sessionID)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "scope cleared by admin",
		zap.String("scope", kind.String()),
		zap.String("admin", auth.FromEcho(c).Username),
		zap.Int("documents", res.ClearedDocuments))
	return c.JSON(http.StatusOK, res)
}
