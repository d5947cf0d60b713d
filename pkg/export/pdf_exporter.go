package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Field is a labelled value printed in a document header block.
type Field struct {
	Label string
	Value string
}

// Document describes a single-record printable document such as a transfer
// slip or an ID change certificate.
type Document struct {
	Title       string
	Subtitle    string
	Fields      []Field
	TableTitle  string
	Table       *Dataset
	Notes       []string
	Signatures  []string
	Landscape   bool
	GeneratedAt time.Time
}

// PDFExporter renders documents and datasets with gofpdf.
type PDFExporter struct {
	creator string
}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter(creator string) *PDFExporter {
	if creator == "" {
		creator = "sma-records-api"
	}
	return &PDFExporter{creator: creator}
}

// Render creates a tabular PDF with an optional title.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	return e.RenderDocument(Document{Title: title, Table: &data, Landscape: len(data.Headers) > 6})
}

// RenderDocument lays out the header fields, an optional table, notes and
// signature lines.
func (e *PDFExporter) RenderDocument(doc Document) ([]byte, error) {
	if doc.Table != nil && len(doc.Table.Headers) == 0 {
		return nil, fmt.Errorf("pdf table requires at least one header")
	}
	if doc.Title == "" && len(doc.Fields) == 0 && doc.Table == nil {
		return nil, fmt.Errorf("pdf document is empty")
	}

	orientation := "P"
	if doc.Landscape {
		orientation = "L"
	}
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetCreator(e.creator, true)
	pdf.SetTitle(doc.Title, true)
	pdf.SetMargins(15, 15, 15)
	pdf.AliasNbPages("")

	generated := doc.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("Generated %s", generated.Format("2006-01-02 15:04")), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.AddPage()

	pageWidth, _ := pdf.GetPageSize()
	contentWidth := pageWidth - 30

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 9, tr(strings.ToUpper(doc.Title)), "", 1, "C", false, 0, "")
	}
	if doc.Subtitle != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, tr(doc.Subtitle), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	if len(doc.Fields) > 0 {
		labelWidth := contentWidth * 0.35
		for _, f := range doc.Fields {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(labelWidth, 7, tr(f.Label), "", 0, "L", false, 0, "")
			pdf.SetFont("Arial", "", 10)
			pdf.MultiCell(contentWidth-labelWidth, 7, tr(f.Value), "", "L", false)
		}
		pdf.Ln(3)
	}

	if doc.Table != nil {
		if doc.TableTitle != "" {
			pdf.SetFont("Arial", "B", 11)
			pdf.CellFormat(0, 8, tr(doc.TableTitle), "", 1, "L", false, 0, "")
		}
		colWidth := contentWidth / float64(len(doc.Table.Headers))
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, header := range doc.Table.Headers {
			pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 9)
		for _, row := range doc.Table.Rows {
			for _, header := range doc.Table.Headers {
				pdf.CellFormat(colWidth, 7, tr(row[header]), "1", 0, "", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.Ln(3)
	}

	if len(doc.Notes) > 0 {
		pdf.SetFont("Arial", "", 9)
		for _, note := range doc.Notes {
			pdf.MultiCell(0, 5, tr(note), "", "L", false)
		}
		pdf.Ln(3)
	}

	if len(doc.Signatures) > 0 {
		pdf.Ln(15)
		slot := contentWidth / float64(len(doc.Signatures))
		y := pdf.GetY()
		for i, name := range doc.Signatures {
			x := 15 + float64(i)*slot
			pdf.Line(x+5, y, x+slot-5, y)
			pdf.SetXY(x, y+1)
			pdf.SetFont("Arial", "", 9)
			pdf.CellFormat(slot, 5, tr(name), "", 0, "C", false, 0, "")
		}
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
