// Package capture builds portable transfer objects from finished responses
// so an embedding host can file them away. Payloads own their bytes: nothing
// in a payload references live session state.
package capture

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tmatias/aichat/internal/document"
)

// FormatHint tells the consumer how to interpret Content.
type FormatHint string

const (
	FormatMarkdown FormatHint = "markdown"
	FormatPlain    FormatHint = "plain"
	FormatHTML     FormatHint = "html"
)

// SourceType categorizes where captured content came from.
type SourceType string

const (
	SourceText     SourceType = "text"
	SourceDocument SourceType = "document"
	SourceMixed    SourceType = "mixed"
)

// Provenance records where and when a capture was taken. CapturedAt is
// stamped at build time, not at response completion: callers may capture a
// historical response long after it finished.
type Provenance struct {
	SourceID   string
	SourceType SourceType
	CapturedAt time.Time
	Title      string
	Model      string
	Extra      map[string]string
}

// Attachment is an independently owned byte payload riding along with a
// capture.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// Payload is the portable transfer object handed to the host's capture
// sink. Content is never empty.
type Payload struct {
	Content     string
	Format      FormatHint
	Provenance  Provenance
	Attachments []Attachment
}

// ErrNothingToCapture signals a capture attempt on an empty response.
var ErrNothingToCapture = errors.New("capture: nothing to capture")

// Build constructs a payload from response text and an optional generated
// document. The format hint is always markdown on this path. Returns
// ErrNothingToCapture when both the text and any document body are empty.
func Build(content string, doc *document.Generated, prov Provenance) (*Payload, error) {
	if content == "" && (doc == nil || doc.Content == "") {
		return nil, ErrNothingToCapture
	}
	if content == "" {
		content = doc.Content
	}

	prov.CapturedAt = time.Now()
	if prov.SourceType == "" {
		prov.SourceType = SourceText
	}
	if doc != nil {
		if prov.Title == "" {
			prov.Title = doc.Title
		}
		prov.SourceType = SourceMixed
	}

	payload := &Payload{
		Content:    content,
		Format:     FormatMarkdown,
		Provenance: prov,
	}
	if doc != nil {
		data := make([]byte, len(doc.Content))
		copy(data, doc.Content)
		payload.Attachments = append(payload.Attachments, Attachment{
			Filename: doc.Filename,
			MimeType: "text/markdown",
			Data:     data,
		})
	}
	return payload, nil
}

// Markdown renders the payload with a provenance header for display or
// export.
func (p *Payload) Markdown() string {
	var sb strings.Builder
	if p.Provenance.Title != "" {
		sb.WriteString("# " + p.Provenance.Title + "\n\n")
	}
	sb.WriteString("---\n")
	sb.WriteString("source: " + p.Provenance.SourceID + "\n")
	sb.WriteString("captured_at: " + p.Provenance.CapturedAt.Format(time.RFC3339) + "\n")
	if p.Provenance.Model != "" {
		sb.WriteString("model: " + p.Provenance.Model + "\n")
	}
	keys := make([]string, 0, len(p.Provenance.Extra))
	for k := range p.Provenance.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("%s: %s\n", k, p.Provenance.Extra[k]))
	}
	sb.WriteString("---\n\n")
	sb.WriteString(p.Content)
	return sb.String()
}
