package http

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/ragd/internal/auth"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var errDocumentNotFound = errors.New("document not found")

// handleUpload accepts a document for background ingestion. The reply is
// 202 with the document id to poll at /v1/documents/:id/status.
func (s *Server) handleUpload(c echo.Context) error {
	id := auth.FromEcho(c)

	req, content, err := readUpload(c)
	if err != nil {
		return err
	}
	scope, err := uploadScope(id, req.Scope)
	if err != nil {
		return err
	}

	task, err := s.pipeline.Submit(c.Request().Context(), ingest.Upload{
		Filename:   req.Filename,
		Content:    content,
		Scope:      scope,
		UploadedBy: id.Username,
		Tags:       req.Tags,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, UploadResponse{
		DocumentID: task.DocumentID,
		Filename:   task.Filename,
		Scope:      task.Scope,
		Status:     string(task.Status),
		Message:    task.Message,
	})
}

// readUpload reads either a multipart form with a "file" part or a JSON body.
func readUpload(c echo.Context) (UploadRequest, []byte, error) {
	var req UploadRequest
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return req, nil, echo.NewHTTPError(http.StatusBadRequest, "multipart upload requires a file part")
		}
		f, err := fh.Open()
		if err != nil {
			return req, nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable file part").SetInternal(err)
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return req, nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable file part").SetInternal(err)
		}

		req.Filename = fh.Filename
		if name := c.FormValue("filename"); name != "" {
			req.Filename = name
		}
		req.Scope = c.FormValue("scope")
		for _, tag := range strings.Split(c.FormValue("tags"), ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				req.Tags = append(req.Tags, tag)
			}
		}
		return req, content, nil
	}

	if err := c.Bind(&req); err != nil {
		return req, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return req, []byte(req.Content), nil
}

// uploadScope resolves the target scope. Personal is the default; Global and
// Legacy need the admin role.
func uploadScope(id auth.Identity, name string) (vectorstore.Scope, error) {
	if name == "" {
		name = vectorstore.ScopePersonal.String()
	}
	kind, err := vectorstore.ParseScopeKind(name)
	if err != nil {
		return vectorstore.Scope{}, err
	}
	if kind != vectorstore.ScopePersonal && !id.IsAdmin() {
		return vectorstore.Scope{}, auth.ErrForbidden
	}
	return vectorstore.ScopeFor(kind, id.SessionID)
}

// visible reports whether the caller may see data of the given scope.
func visible(id auth.Identity, scope, sessionID string) bool {
	if scope != vectorstore.ScopePersonal.String() {
		return true
	}
	return id.IsAdmin() || (id.SessionID != "" && id.SessionID == sessionID)
}

// handleListDocuments lists the caller's session documents; admins also see
// Global and Legacy.
func (s *Server) handleListDocuments(c echo.Context) error {
	ctx := c.Request().Context()
	id := auth.FromEcho(c)

	var docs []vectorstore.DocumentInfo
	if id.IsAdmin() {
		docs = append(docs, s.engine.ListDocuments(ctx, vectorstore.ListFilter{Kind: vectorstore.ScopeGlobal})...)
		docs = append(docs, s.engine.ListDocuments(ctx, vectorstore.ListFilter{Kind: vectorstore.ScopeLegacy})...)
	}
	if id.SessionID != "" {
		docs = append(docs, s.engine.ListDocuments(ctx, vectorstore.ListFilter{
			Kind:      vectorstore.ScopePersonal,
			SessionID: id.SessionID,
		})...)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
	if docs == nil {
		docs = []vectorstore.DocumentInfo{}
	}
	return c.JSON(http.StatusOK, DocumentListResponse{Documents: docs, Total: len(docs)})
}

// handleGetDocument returns a document's passages in sequence order.
func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.engine.GetByDocument(c.Request().Context(), c.Param("id"), vectorstore.Scope{})
	if err != nil {
		return err
	}
	if len(doc.Passages) == 0 || !visible(auth.FromEcho(c), doc.Scope, doc.SessionID) {
		return errDocumentNotFound
	}
	return c.JSON(http.StatusOK, doc)
}

// handleDocumentStatus reports the ingestion task of a document.
func (s *Server) handleDocumentStatus(c echo.Context) error {
	task, err := s.pipeline.Tasks().Get(c.Param("id"))
	if err != nil {
		return err
	}
	if !visible(auth.FromEcho(c), task.Scope, task.SessionID) {
		return ingest.ErrTaskNotFound
	}
	return c.JSON(http.StatusOK, task)
}

// handleDeleteDocument removes a document. It is idempotent unless
// must_exist=true, which turns "nothing removed" into 404.
func (s *Server) handleDeleteDocument(c echo.Context) error {
	ctx := c.Request().Context()
	id := auth.FromEcho(c)
	docID := c.Param("id")

	mustExist := false
	if v := c.QueryParam("must_exist"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "must_exist must be a boolean")
		}
		mustExist = b
	}

	doc, err := s.engine.GetByDocument(ctx, docID, vectorstore.Scope{})
	if err != nil {
		return err
	}
	if len(doc.Passages) == 0 || !visible(id, doc.Scope, doc.SessionID) {
		if mustExist {
			return errDocumentNotFound
		}
		return c.JSON(http.StatusOK, vectorstore.DeleteResult{})
	}
	if doc.Scope != vectorstore.ScopePersonal.String() && !id.IsAdmin() {
		return auth.ErrForbidden
	}

	res, err := s.engine.DeleteDocument(ctx, docID)
	if err != nil {
		return err
	}
	if res.Removed == 0 && mustExist {
		return errDocumentNotFound
	}
	return c.JSON(http.StatusOK, res)
}
