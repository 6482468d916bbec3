package audio

import (
	"errors"
	"fmt"
	"testing"
)

func TestAcquisitionErrorWrapping(t *testing.T) {
	cause := errors.New("device busy")
	err := acquisitionError(ReasonUnavailable, cause)

	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("acquisitionError did not return *AcquisitionError: %T", err)
	}
	if acqErr.Reason != ReasonUnavailable {
		t.Errorf("Reason = %q, want %q", acqErr.Reason, ReasonUnavailable)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestAcquisitionErrorNoDevice(t *testing.T) {
	err := acquisitionError(ReasonUnavailable, fmt.Errorf("lookup: %w", ErrNoAudioDevice))
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) || acqErr.Reason != ReasonNoDevice {
		t.Errorf("Reason = %v, want %q", acqErr, ReasonNoDevice)
	}
}

func TestAcquisitionErrorNotDoubleWrapped(t *testing.T) {
	inner := &AcquisitionError{Reason: ReasonPermissionDenied}
	if got := acquisitionError(ReasonUnavailable, inner); got != error(inner) {
		t.Errorf("acquisitionError rewrapped %v", got)
	}
}

func TestNewInputBackends(t *testing.T) {
	tests := []struct {
		backend Backend
		wantErr bool
	}{
		{"", false},
		{BackendMalgo, false},
		{BackendProcess, false},
		{"jack", true},
	}
	for _, tt := range tests {
		_, err := NewInput(InputConfig{Backend: tt.backend})
		if (err != nil) != tt.wantErr {
			t.Errorf("NewInput(%q) error = %v, wantErr %v", tt.backend, err, tt.wantErr)
		}
	}
}
