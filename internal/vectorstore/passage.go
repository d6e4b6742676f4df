package vectorstore

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Well-known metadata keys.
const (
	MetaFilename   = "filename"
	MetaUploadedBy = "uploaded_by"
	MetaUploadedAt = "upload_timestamp"
	MetaTags       = "tags"
	MetaExtension  = "file_extension"
	MetaPage       = "page_number"
	MetaSection    = "section"
	MetaChunkIndex = "chunk_index"
)

// Passage is an immutable unit of document content.
type Passage struct {
	ID         string         `json:"passage_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Seq        int            `json:"sequence_index"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StoredPassage is a passage with its normalized embedding, as exchanged with
// a Persister.
type StoredPassage struct {
	Passage
	Vector  []float32
	ModelID string
}

// record is the in-memory form of a stored passage. Records are never
// mutated after insertion, so snapshots can share them without copying.
type record struct {
	passage Passage
	vector  []float32
	modelID string
}

func (r *record) stored() StoredPassage {
	return StoredPassage{Passage: r.passage, Vector: r.vector, ModelID: r.modelID}
}

// passageNamespace roots the UUIDv5 passage ids.
var passageNamespace = uuid.MustParse("6f1d3a52-8f3b-5c1e-9a34-2d7b0e4c9a10")

// newPassageID derives a collision-resistant id. gen differs per Put, so an
// id is never reused after its passage is deleted.
func newPassageID(scope Scope, documentID string, seq int, gen uint64) string {
	name := scope.discriminator() + "\x00" + documentID + "\x00" + strconv.Itoa(seq) + "\x00" + strconv.FormatUint(gen, 10)
	return uuid.NewSHA1(passageNamespace, []byte(name)).String()
}

// normalize returns a unit-length copy of v.
func normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroVector
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, nil
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// metaString reads a string metadata value.
func metaString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// metaInt reads an integer metadata value that may have been decoded from
// JSON as a float or stored as a string.
func metaInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// metaStrings reads a list metadata value such as tags.
func metaStrings(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// metaTime reads an RFC 3339 timestamp or a time.Time.
func metaTime(m map[string]any, key string) time.Time {
	switch v := m[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}
