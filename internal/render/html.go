package render

import (
	"bytes"
	"html/template"
	"time"

	"github.com/rotisserie/eris"

	"github.com/TobiSchelling/marketaudit/internal/audit"
	"github.com/TobiSchelling/marketaudit/internal/stage"
)

var page = template.Must(template.New("audit").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: .25rem .5rem; text-align: left; }
blockquote { border-left: 4px solid #d97706; background: #fffbeb; margin: 1rem 0; padding: .5rem 1rem; }
.fallback { color: #b45309; }
</style>
</head>
<body>
<article>{{.Body}}</article>
{{with .Stages}}
<section>
<h2>Audit stages</h2>
<table>
<tr><th>Stage</th><th>Result</th><th>Duration</th></tr>
{{range .}}<tr{{if .Fallback}} class="fallback"{{end}}><td>{{.Name}}</td><td>{{.Result}}</td><td>{{.Duration}}</td></tr>
{{end}}</table>
</section>
{{end}}
{{with .Warnings}}
<section>
<h2>Warnings</h2>
<ul>{{range .}}<li>{{.}}</li>{{end}}</ul>
</section>
{{end}}
</body>
</html>
`))

// StageRow is one line of the stage table.
type StageRow struct {
	Name     string
	Result   string
	Duration string
	Fallback bool
}

// StageRows lists the stages of rec in pipeline order.
func StageRows(rec *audit.FinalAuditRecord) []StageRow {
	if rec == nil {
		return nil
	}
	var rows []StageRow
	for _, name := range stage.Names() {
		r, ok := rec.Stages[name]
		if !ok {
			continue
		}
		row := StageRow{Name: name, Result: string(r.Tag), Duration: r.Duration.Round(time.Millisecond).String()}
		if !r.OK() {
			row.Fallback = true
			row.Result += " (" + string(r.Cause) + ")"
		}
		rows = append(rows, row)
	}
	return rows
}

// HTML renders a standalone page with the document, its stage table and warnings.
func HTML(title, document string, rec *audit.FinalAuditRecord) ([]byte, error) {
	body, err := Fragment(document)
	if err != nil {
		return nil, err
	}

	data := struct {
		Title    string
		Body     template.HTML
		Stages   []StageRow
		Warnings []string
	}{
		Title: title,
		// Markdown comes from our own pipeline; goldmark drops raw HTML by default.
		Body:   template.HTML(body),
		Stages: StageRows(rec),
	}
	if rec != nil {
		data.Warnings = rec.Warnings
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		return nil, eris.Wrap(err, "rendering html")
	}
	return buf.Bytes(), nil
}
