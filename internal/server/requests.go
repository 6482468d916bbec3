package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Settings ---

// SettingsUpdateRequest is the request body for settings/update.
// Nil fields are left unchanged.
type SettingsUpdateRequest struct {
	CalibrationDB *float64 `json:"calibration_db" validate:"omitempty,gt=0,lte=140"`
	Preparer      *string  `json:"preparer" validate:"omitempty,max=100"`
	Input         *string  `json:"input" validate:"omitempty,max=256"`
}
