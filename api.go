package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-dbmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-dbmeter/internal/meter"
	"github.com/oszuidwest/zwfm-dbmeter/internal/report"
	"github.com/oszuidwest/zwfm-dbmeter/internal/server"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// requireMethod writes 405 and returns false unless r uses method.
func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// defaultEventLimit is the page size for GET /api/events without a limit.
const defaultEventLimit = 100

// maxReportForm bounds the multipart report form in memory.
const maxReportForm = maxLogoBytes + 1<<20

// reportUploader stores rendered reports.
type reportUploader interface {
	Upload(ctx context.Context, key string, body []byte) (string, error)
}

// newReportUploader returns an S3 uploader for cfg.
func newReportUploader(cfg report.S3Config) (reportUploader, error) {
	u, err := report.NewUploader(cfg)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// handleAPIStatus returns the meter status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.config.Snapshot()
	s.writeJSON(w, http.StatusOK, s.meterStatus(&cfg))
}

// handleAPIMeterStart starts the meter.
// POST /api/meter/start
func (s *Server) handleAPIMeterStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.meter.Start(); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, server.UserError(err).Error())
		return
	}
	cfg := s.config.Snapshot()
	s.writeJSON(w, http.StatusOK, s.meterStatus(&cfg))
}

// handleAPIMeterStop stops the meter and any recording.
// POST /api/meter/stop
func (s *Server) handleAPIMeterStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.meter.Stop(); err != nil {
		// The meter is stopped regardless; only the input release failed.
		slog.Warn("meter stop reported an error", "error", err)
	}
	cfg := s.config.Snapshot()
	s.writeJSON(w, http.StatusOK, s.meterStatus(&cfg))
}

// handleAPIRecording returns the recorded series as table rows.
// GET /api/recording
func (s *Server) handleAPIRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	msg := server.SeriesMessage(s.meter.Series())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.meter.SessionID(),
		"state":      s.meter.RecordingState(),
		"rows":       msg.Rows,
		"count":      msg.Count,
	})
}

// handleAPIRecordingStart starts recording. The meter must be live.
// POST /api/recording/start
func (s *Server) handleAPIRecordingStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.meter.StartRecording(); err != nil {
		if errors.Is(err, meter.ErrNotLive) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg := s.config.Snapshot()
	s.writeJSON(w, http.StatusOK, s.meterStatus(&cfg))
}

// handleAPIRecordingStop stops recording and keeps the series.
// POST /api/recording/stop
func (s *Server) handleAPIRecordingStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.meter.StopRecording()
	cfg := s.config.Snapshot()
	s.writeJSON(w, http.StatusOK, s.meterStatus(&cfg))
}

// handleAPIRecordingReset clears the recorded series.
// POST /api/recording/reset
func (s *Server) handleAPIRecordingReset(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.meter.ResetRecording()
	cfg := s.config.Snapshot()
	s.writeJSON(w, http.StatusOK, s.meterStatus(&cfg))
}

// parseReportRequest reads the report form and returns its metadata.
// The form is multipart (prepared_by, logo) or urlencoded (prepared_by).
// Without an uploaded logo, the configured logo is used.
func (s *Server) parseReportRequest(w http.ResponseWriter, r *http.Request) (report.Metadata, bool) {
	cfg := s.config.Snapshot()
	r.Body = http.MaxBytesReader(w, r.Body, maxReportForm)

	err := r.ParseMultipartForm(maxReportForm)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid form: "+err.Error())
		return report.Metadata{}, false
	}

	req := reportRequest{PreparedBy: strings.TrimSpace(r.FormValue("prepared_by"))}
	if err := server.ValidateStruct(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, server.ValidationErrors(err))
		return report.Metadata{}, false
	}

	meta := report.Metadata{
		PreparedBy: req.PreparedBy,
		SessionID:  s.meter.SessionID(),
	}
	if meta.PreparedBy == "" {
		meta.PreparedBy = cfg.Preparer
	}

	file, _, err := r.FormFile("logo")
	switch {
	case err == nil:
		defer file.Close() //nolint:errcheck // Multipart temp file
		logo, err := readLogo(file)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return report.Metadata{}, false
		}
		meta.Logo = logo
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		logo, err := loadLogo(cfg.LogoPath)
		if err != nil {
			slog.Warn("configured logo unavailable", "path", cfg.LogoPath, "error", err)
		}
		meta.Logo = logo
	default:
		s.writeError(w, http.StatusBadRequest, "Invalid logo: "+err.Error())
		return report.Metadata{}, false
	}

	return meta, true
}

// handleAPIReport renders the recorded series as a PDF download.
// POST /api/report
func (s *Server) handleAPIReport(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	meta, ok := s.parseReportRequest(w, r)
	if !ok {
		return
	}

	series := s.meter.Series()
	pdf, err := renderReport(series, meta)
	if err != nil {
		slog.Error("failed to render report", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to render report")
		return
	}

	filename := report.Filename(time.Now())
	if path, err := saveReport(s.config.Snapshot().OutputDir, filename, pdf); err != nil {
		slog.Warn("failed to save report copy", "error", err)
	} else if path != "" {
		slog.Info("report saved", "path", path)
	}

	if err := s.events.LogReport(eventlog.ReportExported, meta.SessionID, &eventlog.ReportDetails{
		Filename:   filename,
		PreparedBy: meta.PreparedBy,
		Rows:       len(series),
	}); err != nil {
		slog.Warn("failed to write event log", "error", err)
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		slog.Debug("report download interrupted", "error", err)
	}
}

// handleAPIReportUpload renders the report and stores it in S3.
// POST /api/report/upload
func (s *Server) handleAPIReportUpload(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	meta, ok := s.parseReportRequest(w, r)
	if !ok {
		return
	}

	uploader, err := s.uploader(s.config.Snapshot().S3)
	if err != nil {
		if errors.Is(err, report.ErrS3NotConfigured) {
			s.writeError(w, http.StatusPreconditionFailed, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	series := s.meter.Series()
	pdf, err := renderReport(series, meta)
	if err != nil {
		slog.Error("failed to render report", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to render report")
		return
	}

	filename := report.Filename(time.Now())
	details := &eventlog.ReportDetails{Filename: filename, PreparedBy: meta.PreparedBy, Rows: len(series)}

	key, err := uploader.Upload(r.Context(), filename, pdf)
	if err != nil {
		details.Error = err.Error()
		if logErr := s.events.LogReport(eventlog.UploadFailed, meta.SessionID, details); logErr != nil {
			slog.Warn("failed to write event log", "error", logErr)
		}
		slog.Error("report upload failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	details.S3Key = key
	if err := s.events.LogReport(eventlog.ReportUploaded, meta.SessionID, details); err != nil {
		slog.Warn("failed to write event log", "error", err)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"filename": filename,
		"key":      key,
		"rows":     len(series),
	})
}

// handleAPIDevices returns available audio devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.config.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"backend":  cfg.AudioBackend,
		"selected": cfg.AudioInput,
		"devices":  s.devices.get(cfg.AudioBackend),
	})
}

// handleAPIEvents returns a page of the event log, newest first.
// GET /api/events?limit=&offset=&filter=
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), defaultEventLimit)
	if err != nil || limit < 1 {
		s.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	filter := eventlog.TypeFilter(q.Get("filter"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterMeter, eventlog.FilterRecording, eventlog.FilterReport:
	default:
		s.writeError(w, http.StatusBadRequest, "Invalid filter")
		return
	}

	events := []eventlog.Event{}
	hasMore := false
	if path := s.events.Path(); path != "" {
		events, hasMore, err = eventlog.ReadLast(path, limit, offset, filter)
		if err != nil {
			slog.Error("failed to read event log", "error", err)
			s.writeError(w, http.StatusInternalServerError, "Failed to read event log")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, eventsResponse{
		Events:  events,
		HasMore: hasMore,
	})
}

// eventsResponse is one page of the event log.
type eventsResponse struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// queryInt parses v as an integer, returning def when v is empty.
func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
