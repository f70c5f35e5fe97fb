package rom

import "github.com/cespare/xxhash/v2"

// HashCode computes the stable 64-bit hash of a ROM's WebAssembly code
// section, used as Metadata.ROMHash and compared during NCHS JoinRequest
// validation to detect ROM mismatches between peers.
func HashCode(code []byte) uint64 {
	return xxhash.Sum64(code)
}
