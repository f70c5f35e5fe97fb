package nchs

import (
	"crypto/rand"
	"errors"
	"strings"
)

// codeAlphabet excludes visually ambiguous glyphs (0/O, 1/I, etc).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// ErrCodeNotFound is returned by a Resolver when a game code has no known
// host.
var ErrCodeNotFound = errors.New("nchs: game code not found")

// Resolver maps a short game code to a host endpoint. The core protocol
// does not mandate a particular registry implementation — Resolve is the
// only contract a lobby-discovery backend needs to satisfy.
type Resolver interface {
	Resolve(code string) (endpoint string, err error)
}

// GenerateCode produces a random 6-character uppercase alphanumeric code
// over codeAlphabet, suitable for display to a player as a short-lived
// join code.
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(codeLength)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

// ValidCode reports whether code is well-formed (right length, right
// alphabet) without attempting to resolve it.
func ValidCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			return false
		}
	}
	return true
}

// StaticResolver is an in-memory Resolver, useful for tests and for a
// single-process deployment that doesn't run an external registry.
type StaticResolver struct {
	codes map[string]string
}

// NewStaticResolver builds an empty in-memory code registry.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{codes: make(map[string]string)}
}

// Register generates a fresh code and associates it with endpoint.
func (r *StaticResolver) Register(endpoint string) (string, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}
	r.codes[code] = endpoint
	return code, nil
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(code string) (string, error) {
	endpoint, ok := r.codes[code]
	if !ok {
		return "", ErrCodeNotFound
	}
	return endpoint, nil
}

// Forget removes a previously registered code, e.g. once its session has
// started.
func (r *StaticResolver) Forget(code string) {
	delete(r.codes, code)
}
