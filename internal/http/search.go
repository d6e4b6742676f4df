package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/ragd/internal/auth"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// maxTopK caps how many results one request may ask for.
const maxTopK = 50

func clampTopK(k int) int {
	if k > maxTopK {
		return maxTopK
	}
	return k
}

func (s *Server) search(c echo.Context, query string, topK int, global, personal *bool) (*vectorstore.SearchResponse, error) {
	return s.engine.SearchSimilar(c.Request().Context(), vectorstore.SearchRequest{
		Query:           query,
		TopK:            clampTopK(topK),
		SessionID:       auth.FromEcho(c).SessionID,
		IncludeGlobal:   boolOr(global, true),
		IncludePersonal: boolOr(personal, true),
	})
}

// handleSearch ranks passages across the caller's visible scopes.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := s.search(c, req.Query, req.TopK, req.IncludeGlobal, req.IncludePersonal)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// handleChat searches and then synthesizes an answer from the results.
func (s *Server) handleChat(c echo.Context) error {
	start := s.clock()
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := s.search(c, req.Message, req.TopK, req.IncludeGlobal, req.IncludePersonal)
	if err != nil {
		return err
	}

	ans := s.answerer.Answer(c.Request().Context(), req.Message, resp.Results)
	return c.JSON(http.StatusOK, ChatResponse{
		Answer:           ans.Text,
		Sources:          resp.Results,
		Degraded:         resp.Degraded,
		Fallback:         ans.Fallback,
		Model:            ans.Model,
		ProcessingTimeMs: s.clock().Sub(start).Milliseconds(),
	})
}

// handleHealth reports liveness and whether the embedder is degraded.
func (s *Server) handleHealth(c echo.Context) error {
	st := s.engine.Stats(c.Request().Context())
	status := "ok"
	if st.Degraded {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   status,
		Version:  s.config.Version,
		Degraded: st.Degraded,
		Model:    st.ModelID,
		Counts:   countsFromStats(st),
	})
}
