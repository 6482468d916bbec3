package report

import (
	"bytes"
	"cmp"
	"io"
	"net/http"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

// Report text.
const (
	Title          = "Noise Level Measurement Report"
	EmptyText      = "No data was recorded for this report."
	HeaderTime     = "Time (seconds)"
	HeaderDecibels = "Decibel Level (dB)"
	unknownAuthor  = "N/A"
)

// Page layout in millimetres on A4 portrait.
const (
	pageMargin   = 14.0
	bottomMargin = 15.0
	rowHeight    = 8.0
	logoX        = 15.0
	logoY        = 15.0
	logoWidth    = 60.0
	logoHeight   = 15.0
	logoName     = "logo"
)

// headerFill is the table header background.
var headerFill = [3]int{0, 123, 255}

// PDFExporter renders report data as an A4 PDF document.
type PDFExporter struct {
	now      func() time.Time
	compress bool
}

// NewPDFExporter creates an exporter that dates reports with the current time.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{now: time.Now, compress: true}
}

// Export writes the PDF for data to w.
func (e *PDFExporter) Export(w io.Writer, data *Data, meta Metadata) error {
	date := meta.Date
	if date.IsZero() {
		date = e.now()
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, bottomMargin)
	pdf.SetCompression(e.compress)
	pdf.SetCreationDate(date)
	pdf.SetModificationDate(date)
	pdf.SetTitle(Title, true)
	pdf.SetAuthor(cmp.Or(meta.PreparedBy, unknownAuthor), true)
	pdf.SetCreator("zwfm-dbmeter", false)
	if meta.SessionID != "" {
		pdf.SetSubject("Recording "+meta.SessionID, false)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	// Content moves down when a logo is present.
	titleY, preparerY, tableY := 25.0, 40.0, 55.0
	if len(meta.Logo) > 0 {
		if err := drawLogo(pdf, meta.Logo, meta.LogoType); err != nil {
			return err
		}
		titleY, preparerY, tableY = 40.0, 55.0, 70.0
	}

	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetXY(pageMargin, titleY-7)
	pdf.CellFormat(0, 10, Title, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.SetXY(logoX, preparerY-5)
	pdf.CellFormat(0, 7, tr("Prepared by: "+cmp.Or(meta.PreparedBy, unknownAuthor)), "", 1, "L", false, 0, "")
	pdf.SetX(logoX)
	pdf.CellFormat(0, 7, "Date: "+util.FormatReportDate(date), "", 1, "L", false, 0, "")

	if data.IsEmpty() {
		pdf.SetXY(logoX, tableY)
		pdf.CellFormat(0, 7, EmptyText, "", 1, "L", false, 0, "")
	} else {
		pdf.SetY(tableY)
		drawTable(pdf, data.Rows())
	}

	if err := pdf.Error(); err != nil {
		return util.WrapError("render report", err)
	}
	return util.WrapError("write report", pdf.Output(w))
}

// drawLogo registers and places the logo image.
func drawLogo(pdf *fpdf.Fpdf, logo []byte, logoType string) error {
	if logoType == "" {
		logoType = pdf.ImageTypeFromMime(http.DetectContentType(logo))
	}
	opts := fpdf.ImageOptions{ImageType: logoType}
	pdf.RegisterImageOptionsReader(logoName, opts, bytes.NewReader(logo))
	pdf.ImageOptions(logoName, logoX, logoY, logoWidth, logoHeight, false, opts, 0, "")
	return util.WrapError("add logo", pdf.Error())
}

// drawTable renders a two-column grid table, repeating the header on each page.
func drawTable(pdf *fpdf.Fpdf, rows []Row) {
	pageWidth, pageHeight := pdf.GetPageSize()
	colWidth := (pageWidth - 2*pageMargin) / 2
	limit := pageHeight - bottomMargin - rowHeight

	header := func() {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.SetFillColor(headerFill[0], headerFill[1], headerFill[2])
		pdf.SetTextColor(255, 255, 255)
		pdf.SetDrawColor(200, 200, 200)
		pdf.CellFormat(colWidth, rowHeight, HeaderTime, "1", 0, "L", true, 0, "")
		pdf.CellFormat(colWidth, rowHeight, HeaderDecibels, "1", 1, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.SetTextColor(0, 0, 0)
	}

	header()
	for _, row := range rows {
		if pdf.GetY() > limit {
			pdf.AddPage()
			header()
		}
		pdf.CellFormat(colWidth, rowHeight, row.TimeStep, "1", 0, "L", false, 0, "")
		pdf.CellFormat(colWidth, rowHeight, row.Decibels, "1", 1, "L", false, 0, "")
	}
}
