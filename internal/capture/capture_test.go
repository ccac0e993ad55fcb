package capture

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tmatias/aichat/internal/document"
)

func TestBuildTextOnly(t *testing.T) {
	before := time.Now()
	p, err := Build("the answer", nil, Provenance{SourceID: "s1", Model: "m"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Content != "the answer" {
		t.Fatalf("content = %q", p.Content)
	}
	if p.Format != FormatMarkdown {
		t.Fatalf("format = %q, want markdown", p.Format)
	}
	if p.Provenance.SourceType != SourceText {
		t.Fatalf("source type = %q", p.Provenance.SourceType)
	}
	if p.Provenance.CapturedAt.Before(before) {
		t.Fatalf("captured_at %v predates build", p.Provenance.CapturedAt)
	}
	if len(p.Attachments) != 0 {
		t.Fatalf("unexpected attachments: %+v", p.Attachments)
	}
}

func TestBuildNothingToCapture(t *testing.T) {
	_, err := Build("", nil, Provenance{})
	if !errors.Is(err, ErrNothingToCapture) {
		t.Fatalf("err = %v, want ErrNothingToCapture", err)
	}
	_, err = Build("", &document.Generated{}, Provenance{})
	if !errors.Is(err, ErrNothingToCapture) {
		t.Fatalf("err = %v, want ErrNothingToCapture", err)
	}
}

func TestBuildWithDocument(t *testing.T) {
	doc := &document.Generated{
		Filename: "notes.md",
		Title:    "Notes",
		Content:  "# Notes\nbody",
	}
	p, err := Build("response text", doc, Provenance{SourceID: "s1"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Provenance.SourceType != SourceMixed {
		t.Fatalf("source type = %q, want mixed", p.Provenance.SourceType)
	}
	if p.Provenance.Title != "Notes" {
		t.Fatalf("title = %q", p.Provenance.Title)
	}
	if len(p.Attachments) != 1 {
		t.Fatalf("attachments = %+v", p.Attachments)
	}
	att := p.Attachments[0]
	if att.Filename != "notes.md" || att.MimeType != "text/markdown" {
		t.Fatalf("attachment = %+v", att)
	}
	if string(att.Data) != doc.Content {
		t.Fatalf("attachment data = %q", att.Data)
	}

	// Attachment bytes are owned by the payload: mutating one capture must
	// not leak into the next.
	att.Data[0] = 'X'
	p2, err := Build("response text", doc, Provenance{SourceID: "s2"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if string(p2.Attachments[0].Data) != "# Notes\nbody" {
		t.Fatalf("second capture saw mutated bytes: %q", p2.Attachments[0].Data)
	}
}

func TestBuildDocumentOnlyContent(t *testing.T) {
	doc := &document.Generated{Filename: "notes.md", Content: "just the doc"}
	p, err := Build("", doc, Provenance{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Content != "just the doc" {
		t.Fatalf("content = %q", p.Content)
	}
}

func TestMarkdownRender(t *testing.T) {
	p, err := Build("body text", nil, Provenance{
		SourceID: "session-42",
		Title:    "A Title",
		Model:    "test-model",
		Extra:    map[string]string{"b_key": "2", "a_key": "1"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	out := p.Markdown()
	if !strings.HasPrefix(out, "# A Title\n") {
		t.Fatalf("missing title: %q", out)
	}
	if !strings.Contains(out, "source: session-42\n") {
		t.Fatalf("missing source: %q", out)
	}
	// Extra keys render sorted.
	if strings.Index(out, "a_key: 1") > strings.Index(out, "b_key: 2") {
		t.Fatalf("extra keys unsorted: %q", out)
	}
	if !strings.HasSuffix(out, "body text") {
		t.Fatalf("content not last: %q", out)
	}
}
