package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oszuidwest/zwfm-dbmeter/internal/recording"
	"github.com/oszuidwest/zwfm-dbmeter/internal/report"
	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

// maxLogoBytes limits uploaded and configured logo images.
const maxLogoBytes = 2 << 20

// reportRequest holds the report form fields.
type reportRequest struct {
	PreparedBy string `json:"prepared_by" validate:"max=100"`
}

// loadLogo reads the logo at path. An empty path yields no logo.
func loadLogo(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, util.WrapError("open logo", err)
	}
	defer f.Close() //nolint:errcheck // Read-only file
	return readLogo(f)
}

// readLogo reads at most maxLogoBytes from r.
func readLogo(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxLogoBytes+1))
	if err != nil {
		return nil, util.WrapError("read logo", err)
	}
	if len(data) > maxLogoBytes {
		return nil, fmt.Errorf("logo exceeds %d bytes", maxLogoBytes)
	}
	return data, nil
}

// renderReport renders series as a PDF document.
func renderReport(series recording.Series, meta report.Metadata) ([]byte, error) {
	var buf bytes.Buffer
	if err := report.NewPDFExporter().Export(&buf, report.FromSeries(series), meta); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// saveReport writes pdf to dir and returns the file path. An empty dir skips saving.
func saveReport(dir, filename string, pdf []byte) (string, error) {
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", util.WrapError("create report directory", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", util.WrapError("save report", err)
	}
	return path, nil
}
