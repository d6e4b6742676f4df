package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const (
	defaultToolTopK = 5
	maxToolTopK     = 50
)

var (
	errInvalidArgument = errors.New("invalid argument")
	errNotFound        = errors.New("not found")
)

// registerTools adds every tool to the MCP server and the registry.
func (s *Server) registerTools() error {
	tools := []*ToolMetadata{
		{
			Name:        "search_documents",
			Description: "Semantic search over uploaded documents. Ranks passages from the shared knowledge base and the caller's session.",
			Category:    CategoryRetrieval,
			Keywords:    []string{"find", "query", "similar", "rag"},
		},
		{
			Name:        "ask",
			Description: "Answer a question from the best matching passages, with sources.",
			Category:    CategoryRetrieval,
			Keywords:    []string{"chat", "question", "answer"},
		},
		{
			Name:        "get_document",
			Description: "Return the passages of one document in order.",
			Category:    CategoryDocuments,
			Keywords:    []string{"passages", "read", "content"},
		},
		{
			Name:        "list_documents",
			Description: "List stored documents with filename, scope and passage count.",
			Category:    CategoryDocuments,
			Keywords:    []string{"files", "uploads"},
		},
		{
			Name:        "stats",
			Description: "Report document and passage counts per scope, live sessions and the embedding model.",
			Category:    CategoryAdmin,
			Keywords:    []string{"status", "health", "counts"},
		},
		{
			Name:        "tool_search",
			Description: "Find ragd tools by name, description or keyword. Accepts a regular expression.",
			Category:    CategoryDiscovery,
		},
	}
	for _, t := range tools {
		if err := s.toolRegistry.Register(t); err != nil {
			return err
		}
	}

	s.registerRetrievalTools()
	s.registerDocumentTools()
	s.registerAdminTools()
	s.registerDiscoveryTools()
	return nil
}

func (s *Server) tool(name string) *mcp.Tool {
	meta, err := s.toolRegistry.Get(name)
	if err != nil {
		return &mcp.Tool{Name: name}
	}
	return &mcp.Tool{Name: meta.Name, Description: meta.Description}
}

// session returns the session a call runs under.
func (s *Server) session(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.sessionID
}

func toolTopK(k int) int {
	switch {
	case k <= 0:
		return defaultToolTopK
	case k > maxToolTopK:
		return maxToolTopK
	default:
		return k
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// ===== RETRIEVAL TOOLS =====

type searchInput struct {
	Query           string `json:"query" jsonschema:"Natural language search query"`
	TopK            int    `json:"top_k,omitempty" jsonschema:"Maximum results (default 5, max 50)"`
	SessionID       string `json:"session_id,omitempty" jsonschema:"Session whose personal documents are searched (defaults to the server session)"`
	IncludeGlobal   *bool  `json:"include_global,omitempty" jsonschema:"Search the shared knowledge base (default true)"`
	IncludePersonal *bool  `json:"include_personal,omitempty" jsonschema:"Search the session's personal documents (default true)"`
}

type searchHit struct {
	DocumentID  string  `json:"document_id"`
	DisplayName string  `json:"display_name"`
	Content     string  `json:"content"`
	Score       float64 `json:"score"`
	Scope       string  `json:"scope"`
	Page        int     `json:"page,omitempty"`
	Section     string  `json:"section,omitempty"`
}

type searchOutput struct {
	Results  []searchHit `json:"results"`
	Count    int         `json:"count"`
	Degraded bool        `json:"degraded" jsonschema:"True when the query could not be embedded"`
}

type askInput struct {
	Question        string `json:"question" jsonschema:"The question to answer"`
	TopK            int    `json:"top_k,omitempty" jsonschema:"Passages to retrieve (default 5, max 50)"`
	SessionID       string `json:"session_id,omitempty" jsonschema:"Session whose personal documents are searched"`
	IncludeGlobal   *bool  `json:"include_global,omitempty" jsonschema:"Search the shared knowledge base (default true)"`
	IncludePersonal *bool  `json:"include_personal,omitempty" jsonschema:"Search the session's personal documents (default true)"`
}

type askOutput struct {
	Answer   string      `json:"answer"`
	Fallback bool        `json:"fallback" jsonschema:"True when the answer was extracted rather than generated"`
	Model    string      `json:"model,omitempty"`
	Sources  []searchHit `json:"sources"`
	Degraded bool        `json:"degraded"`
}

func (s *Server) search(ctx context.Context, query string, topK int, sessionID string, global, personal *bool) (*vectorstore.SearchResponse, error) {
	sid := s.session(sessionID)
	if sid != "" {
		ctx = logging.WithSessionID(ctx, sid)
	}
	return s.engine.SearchSimilar(ctx, vectorstore.SearchRequest{
		Query:           query,
		TopK:            toolTopK(topK),
		SessionID:       sid,
		IncludeGlobal:   boolOr(global, true),
		IncludePersonal: boolOr(personal, true),
	})
}

func toHits(results []vectorstore.SearchResult) []searchHit {
	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, searchHit{
			DocumentID:  r.DocumentID,
			DisplayName: r.DisplayName,
			Content:     r.Content,
			Score:       float64(r.Score),
			Scope:       r.Scope,
			Page:        r.Page,
			Section:     r.Section,
		})
	}
	return hits
}

func (s *Server) registerRetrievalTools() {
	mcp.AddTool(s.mcp, s.tool("search_documents"), func(ctx context.Context, req *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, searchOutput, error) {
		done := s.metrics.track(ctx, "search_documents")
		resp, err := s.search(ctx, args.Query, args.TopK, args.SessionID, args.IncludeGlobal, args.IncludePersonal)
		done(err)
		if err != nil {
			return nil, searchOutput{}, err
		}
		hits := toHits(resp.Results)
		return nil, searchOutput{Results: hits, Count: len(hits), Degraded: resp.Degraded}, nil
	})

	mcp.AddTool(s.mcp, s.tool("ask"), func(ctx context.Context, req *mcp.CallToolRequest, args askInput) (*mcp.CallToolResult, askOutput, error) {
		done := s.metrics.track(ctx, "ask")
		resp, err := s.search(ctx, args.Question, args.TopK, args.SessionID, args.IncludeGlobal, args.IncludePersonal)
		if err != nil {
			done(err)
			return nil, askOutput{}, err
		}
		ans := s.answerer.Answer(ctx, args.Question, resp.Results)
		done(nil)

		// The answer text goes first so clients without structured output
		// still show it.
		return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: ans.Text}},
			}, askOutput{
				Answer:   ans.Text,
				Fallback: ans.Fallback,
				Model:    ans.Model,
				Sources:  toHits(resp.Results),
				Degraded: resp.Degraded,
			}, nil
	})
}

// ===== DOCUMENT TOOLS =====

type getDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"Document identifier"`
	Scope      string `json:"scope,omitempty" jsonschema:"global, personal or legacy (default: first scope holding the document)"`
	SessionID  string `json:"session_id,omitempty" jsonschema:"Session for personal scope (defaults to the server session)"`
}

type passageOutput struct {
	PassageID string         `json:"passage_id"`
	Seq       int            `json:"sequence_index"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type getDocumentOutput struct {
	DocumentID string          `json:"document_id"`
	Scope      string          `json:"scope"`
	SessionID  string          `json:"session_id,omitempty"`
	Passages   []passageOutput `json:"passages"`
}

type listDocumentsInput struct {
	Scope     string `json:"scope,omitempty" jsonschema:"global, personal or legacy (default: all)"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Narrow personal documents to one session"`
}

type documentOutput struct {
	DocumentID string   `json:"document_id"`
	Filename   string   `json:"filename"`
	UploadedBy string   `json:"uploaded_by,omitempty"`
	UploadedAt string   `json:"uploaded_at,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Passages   int      `json:"passages"`
	Scope      string   `json:"scope"`
	SessionID  string   `json:"session_id,omitempty"`
}

type listDocumentsOutput struct {
	Documents []documentOutput `json:"documents"`
	Count     int              `json:"count"`
}

func parseKind(name string) (vectorstore.ScopeKind, error) {
	if name == "" {
		return vectorstore.ScopeAny, nil
	}
	return vectorstore.ParseScopeKind(name)
}

func (s *Server) registerDocumentTools() {
	mcp.AddTool(s.mcp, s.tool("get_document"), func(ctx context.Context, req *mcp.CallToolRequest, args getDocumentInput) (*mcp.CallToolResult, getDocumentOutput, error) {
		done := s.metrics.track(ctx, "get_document")
		out, err := s.getDocument(ctx, args)
		done(err)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, s.tool("list_documents"), func(ctx context.Context, req *mcp.CallToolRequest, args listDocumentsInput) (*mcp.CallToolResult, listDocumentsOutput, error) {
		done := s.metrics.track(ctx, "list_documents")
		kind, err := parseKind(args.Scope)
		if err != nil {
			done(err)
			return nil, listDocumentsOutput{}, err
		}
		docs := s.engine.ListDocuments(ctx, vectorstore.ListFilter{Kind: kind, SessionID: args.SessionID})
		done(nil)

		out := listDocumentsOutput{Documents: make([]documentOutput, 0, len(docs)), Count: len(docs)}
		for _, d := range docs {
			doc := documentOutput{
				DocumentID: d.DocumentID,
				Filename:   d.Filename,
				UploadedBy: d.UploadedBy,
				Tags:       d.Tags,
				Passages:   d.Passages,
				Scope:      d.Scope,
				SessionID:  d.SessionID,
			}
			if !d.UploadedAt.IsZero() {
				doc.UploadedAt = d.UploadedAt.UTC().Format(time.RFC3339)
			}
			out.Documents = append(out.Documents, doc)
		}
		return nil, out, nil
	})
}

func (s *Server) getDocument(ctx context.Context, args getDocumentInput) (getDocumentOutput, error) {
	if args.DocumentID == "" {
		return getDocumentOutput{}, fmt.Errorf("%w: document_id is required", errInvalidArgument)
	}
	kind, err := parseKind(args.Scope)
	if err != nil {
		return getDocumentOutput{}, err
	}
	var scope vectorstore.Scope
	if kind != vectorstore.ScopeAny {
		scope, err = vectorstore.ScopeFor(kind, s.session(args.SessionID))
		if err != nil {
			return getDocumentOutput{}, err
		}
	}

	doc, err := s.engine.GetByDocument(ctx, args.DocumentID, scope)
	if err != nil {
		return getDocumentOutput{}, err
	}
	if len(doc.Passages) == 0 {
		return getDocumentOutput{}, fmt.Errorf("document %q: %w", args.DocumentID, errNotFound)
	}

	out := getDocumentOutput{
		DocumentID: doc.DocumentID,
		Scope:      doc.Scope,
		SessionID:  doc.SessionID,
		Passages:   make([]passageOutput, 0, len(doc.Passages)),
	}
	for _, p := range doc.Passages {
		out.Passages = append(out.Passages, passageOutput{
			PassageID: p.ID,
			Seq:       p.Seq,
			Content:   p.Content,
			Metadata:  p.Metadata,
		})
	}
	return out, nil
}

// ===== ADMIN TOOLS =====

type statsInput struct{}

type scopeCounts struct {
	Documents int `json:"documents"`
	Passages  int `json:"passages"`
}

type statsOutput struct {
	TotalDocuments     int                    `json:"total_documents"`
	TotalPassages      int                    `json:"total_passages"`
	Scopes             map[string]scopeCounts `json:"scopes"`
	ActiveSessions     int                    `json:"active_sessions"`
	EmbeddingDimension int                    `json:"embedding_dimension"`
	ModelID            string                 `json:"model_id"`
	Degraded           bool                   `json:"degraded"`
	QueriesToday       int                    `json:"queries_today"`
}

func (s *Server) registerAdminTools() {
	mcp.AddTool(s.mcp, s.tool("stats"), func(ctx context.Context, req *mcp.CallToolRequest, _ statsInput) (*mcp.CallToolResult, statsOutput, error) {
		done := s.metrics.track(ctx, "stats")
		st := s.engine.Stats(ctx)
		done(nil)

		scopes := make(map[string]scopeCounts, len(st.Scopes))
		for name, sc := range st.Scopes {
			scopes[name] = scopeCounts{Documents: sc.Documents, Passages: sc.Passages}
		}
		if st.Degraded {
			s.logger.Debug(ctx, "stats requested while embedder is degraded", zap.String("model", st.ModelID))
		}
		return nil, statsOutput{
			TotalDocuments:     st.TotalDocuments,
			TotalPassages:      st.TotalPassages,
			Scopes:             scopes,
			ActiveSessions:     st.ActiveSessions,
			EmbeddingDimension: st.EmbeddingDimension,
			ModelID:            st.ModelID,
			Degraded:           st.Degraded,
			QueriesToday:       st.QueriesToday,
		}, nil
	})
}

// ===== DISCOVERY =====

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Search text or regular expression"`
	Category string `json:"category,omitempty" jsonschema:"Restrict to one category (retrieval, documents, admin, discovery)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results (default 5)"`
}

type toolMatchOutput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Score       int    `json:"score"`
	MatchReason string `json:"match_reason"`
}

type toolSearchOutput struct {
	Query      string            `json:"query"`
	Results    []toolMatchOutput `json:"results"`
	Count      int               `json:"count"`
	TotalTools int               `json:"total_tools"`
}

func (s *Server) registerDiscoveryTools() {
	mcp.AddTool(s.mcp, s.tool("tool_search"), func(ctx context.Context, req *mcp.CallToolRequest, args toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
		if args.Query == "" {
			return nil, toolSearchOutput{}, fmt.Errorf("%w: query is required", errInvalidArgument)
		}
		limit := args.Limit
		if limit <= 0 {
			limit = 5
		}

		out := toolSearchOutput{Query: args.Query, Results: []toolMatchOutput{}, TotalTools: s.toolRegistry.Count()}
		for _, m := range s.toolRegistry.Search(args.Query) {
			if args.Category != "" && string(m.Tool.Category) != args.Category {
				continue
			}
			if len(out.Results) == limit {
				break
			}
			out.Results = append(out.Results, toolMatchOutput{
				Name:        m.Tool.Name,
				Description: m.Tool.Description,
				Category:    string(m.Tool.Category),
				Score:       m.Score,
				MatchReason: m.MatchReason,
			})
		}
		out.Count = len(out.Results)
		return nil, out, nil
	})
}
