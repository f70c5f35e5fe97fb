package rom

import "errors"

// Load errors (SPEC_FULL.md §7).
var (
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrDecode             = errors.New("decode failed")
)

// ValidateError reports which metadata field failed validation.
type ValidateError struct {
	Field  string
	Reason string
}

func (e *ValidateError) Error() string {
	return "rom: validate " + e.Field + ": " + e.Reason
}

// ErrNotFound is returned by GetAsset when the requested id is absent from
// the asset pack.
var ErrNotFound = errors.New("asset not found")
