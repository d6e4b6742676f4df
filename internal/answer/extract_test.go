package answer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

func TestKeywords(t *testing.T) {
	tests := []struct {
		question string
		want     []string
	}{
		{"What is the password policy?", []string{"password", "policy"}},
		{"How do I report an incident? Incident!", []string{"report", "incident"}},
		{"Quelle est la durée du mot de passe ?", []string{"durée", "mot", "passe"}},
		{"a an to", nil},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, Keywords(tt.question))
		})
	}
}

func TestExtract(t *testing.T) {
	t.Run("matching sentences", func(t *testing.T) {
		got := Extract("password length", passwordSources)
		assert.True(t, strings.HasPrefix(got, "Based on the documents:\n"))
		assert.Contains(t, got, "• Passwords must have at least 12 characters.")
		assert.Contains(t, got, "• Rotate every password every 90 days.")
		assert.NotContains(t, got, "Badges")
		assert.True(t, strings.HasSuffix(got, "(Source: 2 document(s) analyzed)"))
	})

	t.Run("no match previews best passage", func(t *testing.T) {
		got := Extract("vacation", passwordSources)
		assert.Contains(t, got, "Passwords must have at least 12 characters.")
		assert.NotContains(t, got, "•")
	})

	t.Run("long preview is truncated", func(t *testing.T) {
		long := strings.Repeat("x", 300)
		got := Extract("nothing", []vectorstore.SearchResult{{Content: long}})
		assert.Contains(t, got, strings.Repeat("x", previewRunes)+"...")
		assert.NotContains(t, got, strings.Repeat("x", previewRunes+1))
	})

	t.Run("only top passages are used", func(t *testing.T) {
		sources := append(append([]vectorstore.SearchResult{}, passwordSources...),
			vectorstore.SearchResult{Content: "A third password rule. Nobody reads it"})
		got := Extract("password", sources)
		assert.NotContains(t, got, "third")
		assert.Contains(t, got, "(Source: 3 document(s) analyzed)")
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, NoDocumentsMessage, Extract("q", nil))
	})
}
