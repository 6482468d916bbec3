package main

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oszuidwest/zwfm-dbmeter/internal/audio"
	"github.com/oszuidwest/zwfm-dbmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-dbmeter/internal/report"
	"github.com/oszuidwest/zwfm-dbmeter/internal/types"
)

// fakeUploader records uploads.
type fakeUploader struct {
	err  error
	keys []string
	body []byte
}

func (u *fakeUploader) Upload(_ context.Context, key string, body []byte) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.keys = append(u.keys, key)
	u.body = body
	return "reports/" + key, nil
}

// recordSamples starts the meter and records n samples.
func (f *serverFixture) recordSamples(t *testing.T, n int) {
	t.Helper()
	if err := f.meter.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.frames.Fire()
	if err := f.meter.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	for range n {
		f.timer.Fire()
	}
}

func reportForm(t *testing.T, preparedBy string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("prepared_by", preparedBy); err != nil {
		t.Fatalf("WriteField() error = %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, mw.FormDataContentType()
}

func (f *serverFixture) postForm(t *testing.T, target, preparedBy string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := reportForm(t, preparedBy)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// --- Method checks ---

func TestAPIMethodNotAllowed(t *testing.T) {
	f := newServerFixture(t, "")

	tests := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/api/status"},
		{http.MethodGet, "/api/meter/start"},
		{http.MethodGet, "/api/meter/stop"},
		{http.MethodPost, "/api/recording"},
		{http.MethodGet, "/api/recording/start"},
		{http.MethodGet, "/api/report"},
		{http.MethodGet, "/api/report/upload"},
		{http.MethodDelete, "/api/devices"},
		{http.MethodPost, "/api/events"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, nil)
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
			}
		})
	}
}

// --- Meter and recording ---

func TestAPIMeterStartStop(t *testing.T) {
	f := newServerFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/meter/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if st := decodeJSON[types.MeterStatus](t, rec); st.State != "live" {
		t.Errorf("State = %q, want live", st.State)
	}

	rec = f.do(t, http.MethodPost, "/api/meter/stop", nil)
	if st := decodeJSON[types.MeterStatus](t, rec); st.State != "stopped" {
		t.Errorf("State = %q, want stopped", st.State)
	}
}

func TestAPIMeterStartFailure(t *testing.T) {
	f := newServerFixture(t, "")
	f.input.setErr(&audio.AcquisitionError{Reason: audio.ReasonNoDevice, Err: audio.ErrNoAudioDevice})

	rec := f.do(t, http.MethodPost, "/api/meter/start", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	body := decodeJSON[map[string]string](t, rec)
	if !strings.HasPrefix(body["error"], "Could not access the microphone") {
		t.Errorf("error = %q, want user message", body["error"])
	}
}

func TestAPIRecordingRequiresLiveMeter(t *testing.T) {
	f := newServerFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/recording/start", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestAPIRecordingLifecycle(t *testing.T) {
	f := newServerFixture(t, "")
	f.do(t, http.MethodPost, "/api/meter/start", nil)
	f.frames.Fire()

	rec := f.do(t, http.MethodPost, "/api/recording/start", nil)
	if st := decodeJSON[types.MeterStatus](t, rec); st.Recording != "recording" {
		t.Fatalf("Recording = %q, want recording", st.Recording)
	}
	f.timer.Fire()
	f.timer.Fire()

	type recordingResponse struct {
		SessionID string            `json:"session_id"`
		State     string            `json:"state"`
		Rows      []types.SeriesRow `json:"rows"`
		Count     int               `json:"count"`
	}

	got := decodeJSON[recordingResponse](t, f.do(t, http.MethodGet, "/api/recording", nil))
	if got.Count != 2 || len(got.Rows) != 2 {
		t.Fatalf("Count = %d, rows = %d, want 2", got.Count, len(got.Rows))
	}
	if got.Rows[0].TimeStep != "0" || got.Rows[1].TimeStep != "20" {
		t.Errorf("time steps = %q, %q, want 0, 20", got.Rows[0].TimeStep, got.Rows[1].TimeStep)
	}
	if got.Rows[0].DB != "90.0" {
		t.Errorf("DB = %q, want 90.0", got.Rows[0].DB)
	}
	if got.SessionID == "" {
		t.Error("SessionID is empty")
	}

	f.do(t, http.MethodPost, "/api/recording/stop", nil)
	f.timer.Fire()
	if n := len(f.meter.Series()); n != 2 {
		t.Errorf("samples after stop = %d, want 2", n)
	}

	f.do(t, http.MethodPost, "/api/recording/reset", nil)
	got = decodeJSON[recordingResponse](t, f.do(t, http.MethodGet, "/api/recording", nil))
	if got.Count != 0 || got.Rows == nil {
		t.Errorf("after reset Count = %d, Rows = %v, want 0 and empty list", got.Count, got.Rows)
	}
}

// --- Reports ---

func TestAPIReportDownload(t *testing.T) {
	f := newServerFixture(t, "")
	f.recordSamples(t, 3)

	rec := f.postForm(t, "/api/report", "Jan")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q, want application/pdf", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "sound-report-") {
		t.Errorf("Content-Disposition = %q, want report filename", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("body is not a PDF")
	}

	events, _, err := eventlog.ReadLast(f.events.Path(), 10, 0, eventlog.FilterReport)
	if err != nil {
		t.Fatalf("ReadLast() error = %v", err)
	}
	if len(events) != 1 || events[0].Type != eventlog.ReportExported {
		t.Errorf("report events = %+v, want one report_exported", events)
	}
}

func TestAPIReportEmptySeries(t *testing.T) {
	f := newServerFixture(t, "")

	rec := f.postForm(t, "/api/report", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("body is not a PDF")
	}
}

func TestAPIReportValidation(t *testing.T) {
	f := newServerFixture(t, "")

	rec := f.postForm(t, "/api/report", strings.Repeat("x", 101))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	verr := decodeJSON[types.ValidationError](t, rec)
	if len(verr.Errors) != 1 || verr.Errors[0].Field != "prepared_by" {
		t.Errorf("errors = %+v, want prepared_by", verr.Errors)
	}
}

func TestAPIReportUpload(t *testing.T) {
	tests := []struct {
		name       string
		uploader   *fakeUploader
		factoryErr error
		wantStatus int
		wantEvent  eventlog.EventType
	}{
		{"not configured", nil, report.ErrS3NotConfigured, http.StatusPreconditionFailed, ""},
		{"success", &fakeUploader{}, nil, http.StatusOK, eventlog.ReportUploaded},
		{"failure", &fakeUploader{err: errors.New("access denied")}, nil, http.StatusBadGateway, eventlog.UploadFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture(t, "")
			f.srv.uploader = func(report.S3Config) (reportUploader, error) {
				if tt.factoryErr != nil {
					return nil, tt.factoryErr
				}
				return tt.uploader, nil
			}
			f.recordSamples(t, 1)

			rec := f.postForm(t, "/api/report/upload", "Jan")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}

			events, _, err := eventlog.ReadLast(f.events.Path(), 10, 0, eventlog.FilterReport)
			if err != nil {
				t.Fatalf("ReadLast() error = %v", err)
			}
			if tt.wantEvent == "" {
				if len(events) != 0 {
					t.Errorf("report events = %+v, want none", events)
				}
				return
			}
			if len(events) != 1 || events[0].Type != tt.wantEvent {
				t.Errorf("report events = %+v, want one %s", events, tt.wantEvent)
			}
			if tt.wantStatus == http.StatusOK {
				body := decodeJSON[map[string]any](t, rec)
				if key, _ := body["key"].(string); !strings.HasPrefix(key, "reports/sound-report-") {
					t.Errorf("key = %q, want reports/sound-report-*", key)
				}
				if !bytes.HasPrefix(tt.uploader.body, []byte("%PDF")) {
					t.Error("uploaded body is not a PDF")
				}
			}
		})
	}
}

// --- Devices and events ---

func TestAPIDevices(t *testing.T) {
	f := newServerFixture(t, "")

	type devicesResponse struct {
		Devices []types.AudioDevice `json:"devices"`
	}
	got := decodeJSON[devicesResponse](t, f.do(t, http.MethodGet, "/api/devices", nil))
	if len(got.Devices) != 1 || got.Devices[0].Name != "USB Microphone" {
		t.Errorf("Devices = %+v, want USB Microphone", got.Devices)
	}
}

func TestAPIEvents(t *testing.T) {
	f := newServerFixture(t, "")
	f.recordSamples(t, 1)
	f.meter.StopRecording()
	if err := f.meter.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	tests := []struct {
		query      string
		wantStatus int
		wantCount  int
	}{
		{"", http.StatusOK, 4},
		{"?filter=meter", http.StatusOK, 2},
		{"?filter=recording", http.StatusOK, 2},
		{"?filter=report", http.StatusOK, 0},
		{"?limit=1", http.StatusOK, 1},
		{"?limit=2&offset=3", http.StatusOK, 1},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?offset=-1", http.StatusBadRequest, 0},
		{"?filter=bogus", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/events"+tt.query, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			got := decodeJSON[eventsResponse](t, rec)
			if len(got.Events) != tt.wantCount {
				t.Errorf("events = %d, want %d", len(got.Events), tt.wantCount)
			}
		})
	}

	first := decodeJSON[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?limit=1", nil))
	if !first.HasMore {
		t.Error("HasMore = false, want true")
	}
	if first.Events[0].Type != eventlog.MeterStopped {
		t.Errorf("newest event = %q, want %q", first.Events[0].Type, eventlog.MeterStopped)
	}
}
