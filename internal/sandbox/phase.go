// Package sandbox instantiates a guest WebAssembly module on top of wazero,
// binds the capability import surface, and enforces the determinism-
// critical constraints from SPEC_FULL.md §4.2: a hard memory ceiling, a
// per-call CPU budget, and phase-gated imports (init-only resource
// creation, update-only deterministic services, render-only drawing).
package sandbox

// Phase identifies which lifecycle call is currently executing, and so
// which import group is legal. The sandbox records the phase on entry to
// each lifecycle call and restores it on return; any host function call
// outside its permitted phase traps with PhaseViolation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInit
	PhaseUpdate
	PhaseRender
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInit:
		return "init"
	case PhaseUpdate:
		return "update"
	case PhaseRender:
		return "render"
	default:
		return "unknown"
	}
}
