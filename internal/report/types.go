package report

import (
	"errors"
	"time"

	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

// ErrS3NotConfigured is returned when an upload is attempted without S3 settings.
var ErrS3NotConfigured = errors.New("S3 is not configured")

// Metadata describes the report header.
type Metadata struct {
	// PreparedBy is the preparer name. Empty renders as "N/A".
	PreparedBy string
	// Logo is an optional PNG or JPEG image drawn above the title.
	Logo []byte
	// LogoType is "PNG" or "JPG". Empty is detected from the image bytes.
	LogoType string
	// Date is the report date. Zero means now.
	Date time.Time
	// SessionID is written to the document subject when set.
	SessionID string
}

// S3Config contains S3-compatible storage settings.
type S3Config struct {
	Endpoint        string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// IsConfigured reports whether uploads can be attempted.
func (c *S3Config) IsConfigured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}
