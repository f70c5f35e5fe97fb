// Package rom implements the ROM container format: the binary package that
// carries a guest's compiled WebAssembly code, its metadata, and its asset
// pack. Load and Validate fail closed — a corrupt or incompatible cartridge
// is rejected before any runtime resource is committed or guest code runs.
package rom

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Magic is the 4-byte console-specific prefix every ROM container begins
// with.
var Magic = [4]byte{'N', 'C', 'Z', 'X'}

// CurrentVersion is the highest format version this loader understands.
const CurrentVersion uint32 = 1

// wasmMagic is the standard WebAssembly binary magic, "\0asm".
var wasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6D}

// Metadata describes a ROM's identity and netplay characteristics.
type Metadata struct {
	ID             string
	Title          string
	Author         string
	Version        string
	Tags           []string
	TickRate       int
	MaxPlayers     int
	NetplayEnabled bool
	ROMHash        uint64
}

// ROM is a fully-decoded, not-yet-validated cartridge.
type ROM struct {
	FormatVersion uint32
	Metadata      Metadata
	Code          []byte
	Assets        *AssetPack
	Thumbnail     []byte
	Screenshots   [][]byte
}

// Load decodes raw bytes into a ROM. It verifies the magic prefix before
// attempting the (more expensive) gob decode of the body, the same
// cheap-check-before-expensive-decode ordering the N64 header parser in the
// reference pack uses. The format version is stored inside the body, so it
// is checked after the decode.
func Load(data []byte) (*ROM, error) {
	if len(data) < len(Magic) {
		return nil, fmt.Errorf("rom: %w: file too small", ErrBadMagic)
	}
	var prefix [4]byte
	copy(prefix[:], data[:4])
	if prefix != Magic {
		return nil, fmt.Errorf("rom: %w", ErrBadMagic)
	}

	dec := gob.NewDecoder(bytes.NewReader(data[4:]))
	var body rom
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("rom: %w: %v", ErrDecode, err)
	}

	if body.FormatVersion > CurrentVersion {
		return nil, fmt.Errorf("rom: %w: version %d", ErrUnsupportedVersion, body.FormatVersion)
	}

	return (*ROM)(&body), nil
}

// Encode serializes a ROM back to its on-disk container format. Used by
// tooling and by the round-trip test (SPEC_FULL.md §8): decoding then
// re-encoding must yield a byte-for-byte identical container.
func Encode(r *ROM) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(Magic[:])

	enc := gob.NewEncoder(&buf)
	if err := enc.Encode((*rom)(r)); err != nil {
		return nil, fmt.Errorf("rom: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// rom is the gob-encodable shape of ROM; kept as a distinct (identical)
// type so the public ROM type's doc comments and the wire encoding can
// evolve independently without disturbing callers.
type rom ROM
