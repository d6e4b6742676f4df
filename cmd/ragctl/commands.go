package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/auth"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/services"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show document and passage counts per scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRegistry(cmd, func(ctx context.Context, reg *services.Registry) error {
				st := reg.Engine().Stats(ctx)
				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, st)
				}
				fmt.Fprintf(out, "Model:      %s (dimension %d)\n", st.ModelID, st.EmbeddingDimension)
				if st.Degraded {
					fmt.Fprintln(out, "Status:     degraded (no embedding model)")
				}
				fmt.Fprintf(out, "Documents:  %d\n", st.TotalDocuments)
				fmt.Fprintf(out, "Passages:   %d\n", st.TotalPassages)
				fmt.Fprintf(out, "Sessions:   %d\n", st.ActiveSessions)
				for _, name := range []string{"global", "personal", "legacy"} {
					sc := st.Scopes[name]
					fmt.Fprintf(out, "  %-9s %d documents, %d passages\n", name, sc.Documents, sc.Passages)
				}
				return nil
			})
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		sessionID  string
		topK       int
		noGlobal   bool
		noPersonal bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank passages for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd, func(ctx context.Context, reg *services.Registry) error {
				resp, err := reg.Engine().SearchSimilar(ctx, vectorstore.SearchRequest{
					Query:           strings.Join(args, " "),
					TopK:            topK,
					SessionID:       sessionID,
					IncludeGlobal:   !noGlobal,
					IncludePersonal: !noPersonal,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, resp)
				}
				if resp.Degraded {
					fmt.Fprintln(out, "search degraded: the query could not be embedded")
					return nil
				}
				if len(resp.Results) == 0 {
					fmt.Fprintln(out, "no results")
					return nil
				}
				for i, r := range resp.Results {
					fmt.Fprintf(out, "%d. %.3f  %s  (%s)\n", i+1, r.Score, r.DisplayName, r.DocumentID)
					fmt.Fprintf(out, "   %s\n", preview(r.Content, 160))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "search this session's personal documents")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "number of results")
	cmd.Flags().BoolVar(&noGlobal, "no-global", false, "skip the global scope")
	cmd.Flags().BoolVar(&noPersonal, "no-personal", false, "skip the session's personal scope")
	return cmd
}

func newIngestCmd(a *app) *cobra.Command {
	var (
		sessionID  string
		scopeName  string
		documentID string
		tags       []string
		uploadedBy string
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Chunk, embed and store a file",
		Long: `Ingest a file synchronously. The scope defaults to global, or personal when
--session is given. Re-ingesting with the same --id replaces the document.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			scope, err := ingestScope(scopeName, sessionID)
			if err != nil {
				return err
			}

			return a.withRegistry(cmd, func(ctx context.Context, reg *services.Registry) error {
				res, err := reg.Pipeline().Process(ctx, ingest.Upload{
					DocumentID: documentID,
					Filename:   filepath.Base(args[0]),
					Content:    data,
					Scope:      scope,
					UploadedBy: uploadedBy,
					Tags:       tags,
					Replace:    documentID != "",
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, res)
				}
				fmt.Fprintf(out, "%s: %d chunks, %d stored into %s\n", res.DocumentID, res.Chunks, res.Accepted, scope)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "store into this session's personal scope")
	cmd.Flags().StringVar(&scopeName, "scope", "", "global, personal or legacy")
	cmd.Flags().StringVar(&documentID, "id", "", "document id (generated when empty)")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma separated tags")
	cmd.Flags().StringVar(&uploadedBy, "uploaded-by", "ragctl", "uploader recorded in metadata")
	return cmd
}

// ingestScope resolves --scope and --session.
func ingestScope(name, sessionID string) (vectorstore.Scope, error) {
	if name == "" {
		if sessionID != "" {
			return vectorstore.Personal(sessionID)
		}
		return vectorstore.Global(), nil
	}
	kind, err := vectorstore.ParseScopeKind(name)
	if err != nil {
		return vectorstore.Scope{}, err
	}
	return vectorstore.ScopeFor(kind, sessionID)
}

func newListCmd(a *app) *cobra.Command {
	var (
		scopeName string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind := vectorstore.ScopeAny
			if scopeName != "" {
				k, err := vectorstore.ParseScopeKind(scopeName)
				if err != nil {
					return err
				}
				kind = k
			}
			return a.withRegistry(cmd, func(ctx context.Context, reg *services.Registry) error {
				docs := reg.Engine().ListDocuments(ctx, vectorstore.ListFilter{Kind: kind, SessionID: sessionID})
				out := cmd.OutOrStdout()
				if a.jsonOut {
					if docs == nil {
						docs = []vectorstore.DocumentInfo{}
					}
					return printJSON(out, docs)
				}
				for _, d := range docs {
					uploaded := "-"
					if !d.UploadedAt.IsZero() {
						uploaded = d.UploadedAt.Local().Format(time.DateTime)
					}
					fmt.Fprintf(out, "%-36s  %-8s  %4d  %s  %s\n", d.DocumentID, d.Scope, d.Passages, uploaded, d.Filename)
				}
				fmt.Fprintf(out, "%d document(s)\n", len(docs))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "", "global, personal or legacy (default: all)")
	cmd.Flags().StringVar(&sessionID, "session", "", "narrow personal documents to one session")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var mustExist bool
	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document from every scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd, func(ctx context.Context, reg *services.Registry) error {
				res, err := reg.Engine().DeleteDocument(ctx, args[0])
				if err != nil {
					return err
				}
				if mustExist && res.Removed == 0 {
					return fmt.Errorf("document %q not found", args[0])
				}
				if a.jsonOut {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d passage(s)\n", res.Removed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&mustExist, "must-exist", false, "fail when nothing was removed")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var (
		sessionID string
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "clear [global|personal|legacy|all]",
		Short: "Remove every document from a scope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := vectorstore.ScopeAny
			if len(args) == 1 && args[0] != "all" {
				k, err := vectorstore.ParseScopeKind(args[0])
				if err != nil {
					return err
				}
				kind = k
			}
			if kind == vectorstore.ScopeAny && !yes {
				return errors.New("clearing every scope needs --yes")
			}
			if kind != vectorstore.ScopePersonal {
				sessionID = ""
			}
			return a.withRegistry(cmd, func(ctx context.Context, reg *services.Registry) error {
				res, err := reg.Engine().Clear(ctx, kind, sessionID)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d document(s), %d passage(s) from %s\n",
					res.ClearedDocuments, res.ClearedPassages, kind)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "clear only this session (personal scope)")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing every scope")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		username  string
		role      string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with auth.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			authn, err := auth.NewAuthenticator(cfg.Auth)
			if err != nil {
				return err
			}
			if authn.Ephemeral() {
				return errors.New("auth.jwt_secret is not set; a token signed now would be useless to the daemon")
			}
			token, id, err := authn.Issue(username, role, sessionID)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"token":      token,
					"username":   id.Username,
					"role":       id.Role,
					"session_id": id.SessionID,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "user %s, role %s, session %s\n", id.Username, id.Role, id.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username (required)")
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "user or admin")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (generated when empty)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
