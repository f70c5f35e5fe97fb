package rom

import "bytes"

// validTickRates is the exhaustive set of tick rates a console permits.
var validTickRates = map[int]bool{30: true, 60: true, 120: true}

// Budgets bounds the sizes Validate enforces. Kept separate from
// internal/config so rom has no dependency on the server-composition
// layer; the orchestrator passes its console budget through at the call
// site.
type Budgets struct {
	CodeBudgetBytes int64
	ROMBudgetBytes  int64
}

// Validate checks a decoded ROM against the structural and budget
// invariants from SPEC_FULL.md §4.1. It does not re-check the magic or
// format version — those are Load's job.
func Validate(r *ROM, budgets Budgets) error {
	if r.Metadata.ID == "" {
		return &ValidateError{Field: "id", Reason: "must not be empty"}
	}
	if r.Metadata.Title == "" {
		return &ValidateError{Field: "title", Reason: "must not be empty"}
	}
	if r.Metadata.Author == "" {
		return &ValidateError{Field: "author", Reason: "must not be empty"}
	}
	if r.Metadata.Version == "" {
		return &ValidateError{Field: "version", Reason: "must not be empty"}
	}

	if len(r.Code) < 4 || !bytes.Equal(r.Code[:4], wasmMagic[:]) {
		return &ValidateError{Field: "code", Reason: "missing WebAssembly magic"}
	}

	if !validTickRates[r.Metadata.TickRate] {
		return &ValidateError{Field: "tick_rate", Reason: "must be one of {30, 60, 120}"}
	}

	if r.Metadata.MaxPlayers < 1 || r.Metadata.MaxPlayers > 4 {
		return &ValidateError{Field: "max_players", Reason: "must be in [1, 4]"}
	}

	if budgets.CodeBudgetBytes > 0 && int64(len(r.Code)) > budgets.CodeBudgetBytes {
		return &ValidateError{Field: "code", Reason: "exceeds code size budget"}
	}

	if budgets.ROMBudgetBytes > 0 {
		total := int64(len(r.Code)) + int64(len(r.Thumbnail))
		for _, shot := range r.Screenshots {
			total += int64(len(shot))
		}
		if r.Assets != nil {
			for _, entry := range r.Assets.Entries {
				total += int64(len(entry.Payload))
			}
		}
		if total > budgets.ROMBudgetBytes {
			return &ValidateError{Field: "total_size", Reason: "exceeds ROM size budget"}
		}
	}

	return nil
}
