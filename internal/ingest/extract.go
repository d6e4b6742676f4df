package ingest

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Section is a titled run of text on one page.
type Section struct {
	Title string
	Page  int
	Text  string
}

// DefaultAllowedExtensions are the file types Extract understands.
var DefaultAllowedExtensions = []string{".txt", ".md", ".markdown", ".csv", ".json", ".html"}

// Extension returns the lower-cased extension of filename including the dot.
func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// ExtensionAllowed reports whether filename's extension is in allowed.
func ExtensionAllowed(filename string, allowed []string) bool {
	ext := Extension(filename)
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

// Extract converts file content into sections according to the extension.
// Form feeds in plain text start a new page.
func Extract(filename string, data []byte) ([]Section, error) {
	if !utf8.Valid(data) {
		return nil, ErrNotText
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	var sections []Section
	switch ext := Extension(filename); ext {
	case ".md", ".markdown":
		sections = markdownSections(text)
	case ".html", ".htm":
		sections = []Section{htmlSection(text)}
	case ".txt", ".csv", ".json", ".text":
		sections = pageSections(text)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	kept := sections[:0]
	for _, s := range sections {
		if strings.TrimSpace(s.Text) != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil, ErrEmptyDocument
	}
	return kept, nil
}

func pageSections(text string) []Section {
	pages := strings.Split(text, "\f")
	out := make([]Section, 0, len(pages))
	for i, p := range pages {
		out = append(out, Section{Page: i + 1, Text: p})
	}
	return out
}

var markdownHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// markdownSections starts a new section at each ATX heading. The heading
// text stays in the section body so it is searchable.
func markdownSections(text string) []Section {
	var (
		out     []Section
		current = Section{Page: 1}
		body    strings.Builder
		inFence bool
	)
	flush := func() {
		current.Text = body.String()
		out = append(out, current)
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			body.WriteString("\n")
			continue
		}
		if !inFence {
			if m := markdownHeading.FindStringSubmatch(trimmed); m != nil {
				flush()
				current = Section{Title: m[2], Page: 1}
				body.WriteString(m[2])
				body.WriteString(".\n\n")
				continue
			}
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return out
}

// htmlSkipped elements carry no readable text.
var htmlSkipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
}

var htmlBlocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Table: true, atom.Section: true, atom.Article: true,
}

// htmlSection tokenizes content, keeping the title and the visible text.
// Block elements become paragraph breaks.
func htmlSection(content string) Section {
	var (
		body, title strings.Builder
		skip        int
		inTitle     bool
	)
	z := html.NewTokenizer(strings.NewReader(content))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case htmlSkipped[a]:
				if tt == html.StartTagToken {
					skip++
				}
			case a == atom.Title:
				inTitle = tt == html.StartTagToken
			case a == atom.Br || a == atom.Hr:
				body.WriteString("\n")
			case htmlBlocks[a]:
				body.WriteString("\n\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case htmlSkipped[a]:
				if skip > 0 {
					skip--
				}
			case a == atom.Title:
				inTitle = false
			case htmlBlocks[a]:
				body.WriteString("\n\n")
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if inTitle {
				title.Write(z.Text())
				continue
			}
			body.Write(z.Text())
		}
	}

	lines := strings.Split(body.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return Section{
		Title: strings.Join(strings.Fields(title.String()), " "),
		Page:  1,
		Text:  strings.TrimSpace(strings.Join(lines, "\n")),
	}
}
