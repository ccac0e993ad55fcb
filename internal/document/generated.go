package document

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// Generated is a document extracted from a completed response, ready to be
// exported or attached to a capture payload.
type Generated struct {
	Filename  string
	Title     string
	Content   string
	Format    string
	Model     string
	CreatedAt time.Time
}

// FromMatch promotes a detection match to a Generated document. Missing
// filenames are derived from the title, missing titles from the creation
// time.
func FromMatch(m *Match, model string, now time.Time) *Generated {
	title := TitleOf(m.Body)
	if title == "" {
		title = "Document " + now.Format("2006-01-02 15:04")
	}
	filename := m.Filename
	if filename == "" {
		filename = filenameFromTitle(TitleOf(m.Body), now)
	}
	return &Generated{
		Filename:  filename,
		Title:     title,
		Content:   m.Body,
		Format:    "markdown",
		Model:     model,
		CreatedAt: now,
	}
}

type frontmatter struct {
	Title       string `yaml:"title"`
	GeneratedBy string `yaml:"generated_by"`
	GeneratedAt string `yaml:"generated_at"`
	Format      string `yaml:"format"`
}

// WithFrontmatter renders the content with a YAML provenance header.
func (g *Generated) WithFrontmatter() string {
	meta := frontmatter{
		Title:       g.Title,
		GeneratedBy: g.Model,
		GeneratedAt: g.CreatedAt.Format(time.RFC3339),
		Format:      g.Format,
	}
	raw, err := yaml.Marshal(meta)
	if err != nil {
		return g.Content
	}
	return "---\n" + string(raw) + "---\n\n" + g.Content
}

// Save writes the document into dir, creating it as needed, and returns the
// written path. includeMetadata controls the frontmatter header.
func (g *Generated) Save(dir string, includeMetadata bool) (string, error) {
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	content := g.Content
	if includeMetadata {
		content = g.WithFrontmatter()
	}
	path := filepath.Join(dir, g.Filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to save document: %w", err)
	}
	return path, nil
}

// TitleOf extracts the first level-1 or level-2 heading from markdown, or
// returns "".
func TitleOf(body string) string {
	source := []byte(body)
	root := goldmark.DefaultParser().Parse(gtext.NewReader(source))

	title := ""
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || title != "" {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level > 2 {
			return ast.WalkContinue, nil
		}
		title = strings.TrimSpace(headingText(heading, source))
		if title != "" {
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}

func headingText(heading *ast.Heading, source []byte) string {
	var sb strings.Builder
	for c := heading.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
	}
	return sb.String()
}

var slugStripRe = regexp.MustCompile(`[^\w\s-]`)
var slugDashRe = regexp.MustCompile(`[\s_]+`)

// filenameFromTitle slugs the title into a markdown filename, falling back
// to a timestamp when no title exists.
func filenameFromTitle(title string, now time.Time) string {
	if title != "" {
		slug := slugStripRe.ReplaceAllString(title, "")
		slug = slugDashRe.ReplaceAllString(slug, "-")
		slug = strings.Trim(strings.ToLower(slug), "-")
		if len(slug) > 50 {
			slug = slug[:50]
		}
		if slug != "" {
			return slug + ".md"
		}
	}
	return "document_" + now.Format("20060102_150405") + ".md"
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
