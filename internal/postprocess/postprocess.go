// Package postprocess splices the metrics snapshot and the data-quality banner
// into a finished audit document.
package postprocess

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/TobiSchelling/marketaudit/internal/audit"
)

const (
	SnapshotStart = "<!-- metrics-snapshot:start -->"
	SnapshotEnd   = "<!-- metrics-snapshot:end -->"
	WarningStart  = "<!-- data-quality-warning:start -->"
	WarningEnd    = "<!-- data-quality-warning:end -->"
)

// Apply inserts the snapshot block and, when any quality flag is serious, the
// warning banner. Both insertions are skipped when their markers are already
// present, so applying twice gives the same document. The returned warnings name
// every flagged source.
func Apply(document string, inputs audit.Inputs) (string, []string) {
	if !strings.Contains(document, SnapshotStart) {
		document = insertAfterHeading(document, snapshotBlock(inputs))
	}

	flags := inputs.SeriousFlags()
	if len(flags) == 0 {
		return document, nil
	}

	warnings := make([]string, 0, len(flags))
	for _, f := range flags {
		warnings = append(warnings, "data quality: "+describe(f))
	}

	if !strings.Contains(document, WarningStart) {
		document = insertAfterSnapshot(document, bannerBlock(flags))
	}
	return document, warnings
}

func snapshotBlock(in audit.Inputs) string {
	s := in.Snapshot
	rows := [][2]string{
		{"Product", in.Subject.Name},
		{"Price", money(in.Subject.Price)},
		{"Release status", orDash(in.Subject.ReleaseStatus)},
		{"Followers", humanize.Comma(s.Followers)},
		{"Reviews", humanize.Comma(s.Reviews)},
		{"Wishlists", humanize.Comma(s.Wishlists)},
		{"Quality score", humanize.FtoaWithDigits(s.QualityScore, 1)},
		{"Revenue estimate", revenue(s.Revenue)},
	}

	var b strings.Builder
	b.WriteString(SnapshotStart + "\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s |\n", r[0], r[1])
	}
	b.WriteString(SnapshotEnd + "\n")
	return b.String()
}

func bannerBlock(flags []audit.QualityFlag) string {
	var b strings.Builder
	b.WriteString(WarningStart + "\n")
	b.WriteString("> **Data quality warning:** some inputs are placeholders or come from unreliable sources. Treat the affected figures with caution.\n")
	for _, f := range flags {
		fmt.Fprintf(&b, "> - %s\n", describe(f))
	}
	b.WriteString(WarningEnd + "\n")
	return b.String()
}

func describe(f audit.QualityFlag) string {
	label := f.Source
	if f.Placeholder {
		label += " (placeholder data)"
	}
	if f.Note != "" {
		label += ": " + f.Note
	}
	return label
}

func money(v float64) string {
	if v == 0 {
		return "free"
	}
	return "$" + humanize.CommafWithDigits(v, 2)
}

func revenue(r audit.RevenueEstimate) string {
	if r.Estimate == 0 && r.Low == 0 && r.High == 0 {
		return "n/a"
	}
	out := "$" + humanize.Comma(int64(math.Round(r.Estimate)))
	if r.Low != 0 || r.High != 0 {
		out += fmt.Sprintf(" ($%s to $%s", humanize.Comma(int64(math.Round(r.Low))), humanize.Comma(int64(math.Round(r.High))))
		if r.Confidence != "" {
			out += ", " + r.Confidence + " confidence"
		}
		out += ")"
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// isTopHeading reports whether line is a level-one markdown heading.
func isTopHeading(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "# ")
}

// insertAfterHeading places block on the line right after the first top heading
// outside a fenced code block, or prepends it when there is none.
func insertAfterHeading(doc, block string) string {
	lines := strings.SplitAfter(doc, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence || !isTopHeading(line) {
			continue
		}
		head := strings.Join(lines[:i+1], "")
		if !strings.HasSuffix(head, "\n") {
			head += "\n"
		}
		rest := strings.TrimLeft(strings.Join(lines[i+1:], ""), "\n")
		return head + block + "\n" + rest
	}
	return block + "\n" + doc
}

// insertAfterSnapshot places block on the line after the snapshot end marker, or
// after the heading when the snapshot is missing.
func insertAfterSnapshot(doc, block string) string {
	idx := strings.Index(doc, SnapshotEnd)
	if idx < 0 {
		return insertAfterHeading(doc, block)
	}
	pos := idx + len(SnapshotEnd)
	if nl := strings.IndexByte(doc[pos:], '\n'); nl >= 0 {
		pos += nl + 1
	} else {
		doc += "\n"
		pos = len(doc)
	}
	return doc[:pos] + "\n" + block + doc[pos:]
}
