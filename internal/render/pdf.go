package render

import (
	"bytes"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	pdfFont     = "Arial"
	pdfBodySize = 10.0
	pdfLine     = 5.0
	pageWidth   = 190.0
)

// PDF renders document to an A4 PDF by walking the goldmark AST.
func PDF(title, document string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()
	pdf.SetFont(pdfFont, "", pdfBodySize)

	source := []byte(document)
	doc := markdown.Parser().Parse(text.NewReader(source))

	r := &pdfRenderer{
		pdf:    pdf,
		source: source,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
	}
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, eris.Wrap(err, "walking markdown")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, eris.Wrap(err, "writing pdf")
	}
	return buf.Bytes(), nil
}

type pdfRenderer struct {
	pdf       *fpdf.Fpdf
	source    []byte
	tr        func(string) string
	bold      bool
	italic    bool
	size      float64
	listLevel int
}

func (r *pdfRenderer) updateFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	size := r.size
	if size == 0 {
		size = pdfBodySize
	}
	r.pdf.SetFont(pdfFont, style, size)
}

func (r *pdfRenderer) write(s string) {
	r.pdf.Write(pdfLine, r.tr(s))
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			r.pdf.Ln(4)
			r.bold = true
			r.size = map[int]float64{1: 16, 2: 13, 3: 11}[node.Level]
		} else {
			r.bold, r.size = false, 0
			r.pdf.Ln(pdfLine + 1)
		}
		r.updateFont()
	case *ast.Paragraph:
		if !entering {
			r.pdf.Ln(pdfLine + 2)
		}
	case *ast.TextBlock:
		if !entering {
			r.pdf.Ln(pdfLine)
		}
	case *ast.Text:
		if entering {
			r.write(string(node.Segment.Value(r.source)))
			if node.SoftLineBreak() {
				r.write(" ")
			}
			if node.HardLineBreak() {
				r.pdf.Ln(pdfLine)
			}
		}
	case *ast.String:
		if entering {
			r.write(string(node.Value))
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.updateFont()
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", pdfBodySize)
			r.write(string(node.Text(r.source)))
			r.updateFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			r.codeBlock(n.Lines())
		}
		return ast.WalkSkipChildren, nil
	case *ast.HTMLBlock, *ast.RawHTML:
		// Section markers are not rendered.
		return ast.WalkSkipChildren, nil
	case *ast.Blockquote:
		if entering {
			r.pdf.SetTextColor(146, 64, 14)
		} else {
			r.pdf.SetTextColor(0, 0, 0)
		}
	case *ast.List:
		if entering {
			r.listLevel++
		} else {
			r.listLevel--
			if r.listLevel == 0 {
				r.pdf.Ln(2)
			}
		}
	case *ast.ListItem:
		if entering {
			r.pdf.SetX(10 + float64(r.listLevel)*5)
			r.write("- ")
		}
	case *ast.ThematicBreak:
		if entering {
			r.pdf.Ln(2)
			r.pdf.Line(10, r.pdf.GetY(), 200, r.pdf.GetY())
			r.pdf.Ln(2)
		}
	case *extast.Table:
		if entering {
			r.table(node)
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) codeBlock(lines *text.Segments) {
	r.pdf.SetFont("Courier", "", 9)
	r.pdf.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		r.pdf.MultiCell(0, pdfLine, r.tr(strings.TrimRight(string(line.Value(r.source)), "\n")), "", "L", true)
	}
	r.pdf.SetFillColor(255, 255, 255)
	r.updateFont()
	r.pdf.Ln(2)
}

func (r *pdfRenderer) table(n *extast.Table) {
	var rows [][]string
	var collect func(node ast.Node)
	collect = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch child.(type) {
			case *extast.TableHeader, *extast.TableRow:
				var row []string
				for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
					row = append(row, r.tr(string(cell.Text(r.source))))
				}
				rows = append(rows, row)
			}
		}
	}
	collect(n)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	colWidth := pageWidth / float64(len(rows[0]))
	r.pdf.Ln(2)
	for i, row := range rows {
		if i == 0 {
			r.pdf.SetFont(pdfFont, "B", 9)
			r.pdf.SetFillColor(230, 230, 230)
		} else {
			r.pdf.SetFont(pdfFont, "", 9)
			r.pdf.SetFillColor(255, 255, 255)
		}
		for _, cell := range row {
			r.pdf.CellFormat(colWidth, 6, cell, "1", 0, "L", true, 0, "")
		}
		r.pdf.Ln(-1)
	}
	r.pdf.Ln(3)
	r.updateFont()
}
