package detsvc

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Save-slot status codes returned to the guest, per the wire contract in
// SPEC_FULL.md §6.
const (
	StatusOK      = 0
	StatusBadSlot = 1
	StatusTooBig  = 2
)

// ErrBadSlot is returned when a slot index is out of range.
var ErrBadSlot = fmt.Errorf("save slot out of range")

// layout on disk, one file per slot:
//
//	4 bytes   length (little-endian u32)
//	length    payload bytes
//	8 bytes   xxhash64 checksum of the payload
//
// A slot whose checksum does not match its payload reads back as empty
// rather than erroring — the spec treats a corrupted slot as an empty one,
// not a fatal condition, since save data is advisory and the guest already
// has to handle "no save" on first run.
const slotHeaderSize = 4
const slotChecksumSize = 8

// SaveStore implements the save-slot deterministic service: save, load,
// delete, routed through a transactional buffer so the actual file write
// happens after update() returns rather than mid-tick. This is the single
// exception the spec carves out of "deterministic services never touch the
// filesystem."
type SaveStore struct {
	mu        sync.Mutex
	dir       string
	slotCount int
	maxBytes  int

	pending map[int][]byte // end-of-tick write buffer, keyed by slot
}

// NewSaveStore constructs a SaveStore rooted at dir (a console-specific
// per-user directory), with slotCount slots each capped at maxBytes.
func NewSaveStore(dir string, slotCount, maxBytes int) *SaveStore {
	return &SaveStore{
		dir:       dir,
		slotCount: slotCount,
		maxBytes:  maxBytes,
		pending:   make(map[int][]byte),
	}
}

// Save stages a write for the given slot. It does not touch the filesystem;
// Flush (called once, at end-of-tick, by the orchestrator) commits all
// staged writes. Returns the status code the guest sees immediately.
func (s *SaveStore) Save(slot int, data []byte) int {
	if slot < 0 || slot >= s.slotCount {
		return StatusBadSlot
	}
	if len(data) > s.maxBytes {
		return StatusTooBig
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.pending[slot] = buf
	s.mu.Unlock()

	return StatusOK
}

// Delete stages a slot deletion, applied at the next Flush.
func (s *SaveStore) Delete(slot int) int {
	if slot < 0 || slot >= s.slotCount {
		return StatusBadSlot
	}

	s.mu.Lock()
	s.pending[slot] = nil // nil (not absent) marks "delete on flush"
	s.mu.Unlock()

	return StatusOK
}

// Flush commits all staged writes/deletes to disk. Called once per tick,
// after update() returns, never from within a guest call.
func (s *SaveStore) Flush() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int][]byte)
	s.mu.Unlock()

	for slot, data := range pending {
		path := s.slotPath(slot)
		if data == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("detsvc: delete slot %d: %w", slot, err)
			}
			continue
		}
		if err := s.writeSlot(path, data); err != nil {
			return fmt.Errorf("detsvc: flush slot %d: %w", slot, err)
		}
	}
	return nil
}

func (s *SaveStore) writeSlot(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	buf := make([]byte, slotHeaderSize+len(data)+slotChecksumSize)
	binary.LittleEndian.PutUint32(buf[:slotHeaderSize], uint32(len(data)))
	copy(buf[slotHeaderSize:], data)

	sum := xxhash.Sum64(data)
	binary.LittleEndian.PutUint64(buf[slotHeaderSize+len(data):], sum)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a committed slot. Returns the bytes read (capped at cap) and
// their count; a missing, bad-slot, or corrupted read returns (nil, 0).
func (s *SaveStore) Load(slot int, cap int) ([]byte, int) {
	if slot < 0 || slot >= s.slotCount {
		return nil, 0
	}

	raw, err := os.ReadFile(s.slotPath(slot))
	if err != nil {
		return nil, 0
	}
	if len(raw) < slotHeaderSize+slotChecksumSize {
		return nil, 0 // corrupted: too short to contain a valid frame
	}

	length := binary.LittleEndian.Uint32(raw[:slotHeaderSize])
	end := slotHeaderSize + int(length)
	if end+slotChecksumSize != len(raw) {
		return nil, 0 // corrupted: length field disagrees with file size
	}

	payload := raw[slotHeaderSize:end]
	wantSum := binary.LittleEndian.Uint64(raw[end : end+slotChecksumSize])
	if xxhash.Sum64(payload) != wantSum {
		return nil, 0 // corrupted: checksum mismatch reads as empty
	}

	if cap < len(payload) {
		payload = payload[:cap]
	}
	return payload, len(payload)
}

func (s *SaveStore) slotPath(slot int) string {
	return filepath.Join(s.dir, fmt.Sprintf("slot_%d.sav", slot))
}
