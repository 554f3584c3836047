// Package render turns a finished audit document into Markdown, HTML, PDF or
// JSON output.
package render

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/marketaudit/internal/audit"
)

// Output formats.
const (
	FormatMarkdown = "md"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
	FormatJSON     = "json"
)

// Formats lists the supported output formats.
var Formats = []string{FormatMarkdown, FormatHTML, FormatPDF, FormatJSON}

// markdown is shared by the HTML renderer and the PDF AST walk.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// ParseFormat normalizes a format name.
func ParseFormat(name string) (string, error) {
	switch f := strings.ToLower(strings.TrimPrefix(name, ".")); f {
	case FormatMarkdown, "markdown":
		return FormatMarkdown, nil
	case FormatHTML, FormatPDF, FormatJSON:
		return f, nil
	}
	return "", eris.Errorf("unknown format %q (want one of %s)", name, strings.Join(Formats, ", "))
}

// Render produces the output for format. title is used for HTML and PDF metadata.
func Render(format, title, document string, rec *audit.FinalAuditRecord) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return []byte(document), nil
	case FormatHTML:
		return HTML(title, document, rec)
	case FormatPDF:
		return PDF(title, document)
	case FormatJSON:
		return JSON(document, rec)
	}
	return nil, eris.Errorf("unknown format %q", format)
}

// Fragment converts markdown to an HTML fragment.
func Fragment(document string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(document), &buf); err != nil {
		return "", eris.Wrap(err, "converting markdown")
	}
	return buf.String(), nil
}

// JSON encodes the document together with its audit record.
func JSON(document string, rec *audit.FinalAuditRecord) ([]byte, error) {
	out, err := json.MarshalIndent(struct {
		Document string                  `json:"document"`
		Audit    *audit.FinalAuditRecord `json:"audit"`
	}{document, rec}, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "encoding audit json")
	}
	return out, nil
}
