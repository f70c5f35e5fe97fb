package rollback

// InputFrame is one player's input sample for a single tick: a held-button
// bitmask plus one analog stick, matching the capability surface
// SPEC_FULL.md §4.3 exposes to the guest via input_buttons/input_stick_x/y.
type InputFrame struct {
	Buttons uint32
	StickX  float32
	StickY  float32
}

// LocalInputSource reads the current raw input for a locally-owned player
// slot. The platform-specific input poller implements this; the scheduler
// depends only on this narrow read, the same minimal-interface style the
// sandbox uses for InputReader.
type LocalInputSource interface {
	ReadLocal(player uint32) InputFrame
}

// SyntheticInputSource generates a deterministic pseudo-random input
// sequence from a seed, used by SyncTest sessions to drive a guest without
// a human or network input (SPEC_FULL.md §4.7).
type SyntheticInputSource struct {
	state uint64
}

// NewSyntheticInputSource builds a synthetic input generator seeded
// independently of the session's deterministic RNG, which stays reserved
// for guest-visible draws.
func NewSyntheticInputSource(seed uint64) *SyntheticInputSource {
	if seed == 0 {
		seed = 1
	}
	return &SyntheticInputSource{state: seed}
}

func (s *SyntheticInputSource) ReadLocal(player uint32) InputFrame {
	x := s.state ^ (uint64(player)+1)*0x9E3779B97F4A7C15
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	s.state = x
	return InputFrame{
		Buttons: uint32(x) & 0xFF,
		StickX:  float32(int8(x>>8)) / 127,
		StickY:  float32(int8(x>>16)) / 127,
	}
}
