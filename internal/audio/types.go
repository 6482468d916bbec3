package audio

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier used in configuration.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
	// IsDefault reports whether the system selects this device by default.
	IsDefault bool `json:"is_default,omitzero"`
}
