package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required key length.
const KeySize = 32

// Algorithm identifies an AEAD.
type Algorithm byte

const (
	// Auto picks AES-GCM on amd64 and arm64, ChaCha20-Poly1305 otherwise.
	Auto Algorithm = 0
	// AESGCM is AES-256-GCM.
	AESGCM Algorithm = 1
	// ChaCha20 is ChaCha20-Poly1305.
	ChaCha20 Algorithm = 2
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case Auto:
		return "auto"
	case AESGCM:
		return "aes-gcm"
	case ChaCha20:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("algorithm(%d)", byte(a))
	}
}

// ParseAlgorithm parses an algorithm name. The empty string is Auto.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "auto":
		return Auto, nil
	case "aes-gcm":
		return AESGCM, nil
	case "chacha20-poly1305":
		return ChaCha20, nil
	default:
		return Auto, fmt.Errorf("unknown seal algorithm %q", s)
	}
}

var (
	// ErrKeySize is returned for keys that are not KeySize bytes.
	ErrKeySize = fmt.Errorf("seal: key must be %d bytes", KeySize)
	// ErrMalformed is returned for input too short or with an unknown tag.
	ErrMalformed = errors.New("seal: malformed payload")
)

// Sealer seals and opens payloads. It is safe for concurrent use.
type Sealer struct {
	prefer Algorithm
	aeads  map[Algorithm]cipher.AEAD
}

// New creates a Sealer that seals with the hardware-preferred algorithm.
func New(key []byte) (*Sealer, error) {
	return NewWith(key, Auto)
}

// NewWith creates a Sealer that seals with alg.
func NewWith(key []byte, alg Algorithm) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: gcm: %w", err)
	}
	chacha, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("seal: chacha20-poly1305: %w", err)
	}

	if alg == Auto {
		alg = preferred()
	}
	if alg != AESGCM && alg != ChaCha20 {
		return nil, fmt.Errorf("seal: unsupported algorithm %s", alg)
	}

	return &Sealer{
		prefer: alg,
		aeads:  map[Algorithm]cipher.AEAD{AESGCM: gcm, ChaCha20: chacha},
	}, nil
}

// Algorithm returns the algorithm used by Seal.
func (s *Sealer) Algorithm() Algorithm { return s.prefer }

// Overhead returns the bytes Seal adds to a plaintext.
func (s *Sealer) Overhead() int {
	a := s.aeads[s.prefer]
	return 1 + a.NonceSize() + a.Overhead()
}

// Seal encrypts and authenticates plaintext, binding aad.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	a := s.aeads[s.prefer]
	out := make([]byte, 1+a.NonceSize(), 1+a.NonceSize()+len(plaintext)+a.Overhead())
	out[0] = byte(s.prefer)
	nonce := out[1:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return a.Seal(out, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts a payload produced by Seal with the
// same key, whichever algorithm sealed it.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	if len(sealed) < 1 {
		return nil, ErrMalformed
	}
	a, ok := s.aeads[Algorithm(sealed[0])]
	if !ok || len(sealed) < 1+a.NonceSize()+a.Overhead() {
		return nil, ErrMalformed
	}
	nonce := sealed[1 : 1+a.NonceSize()]
	plain, err := a.Open(nil, nonce, sealed[1+a.NonceSize():], aad)
	if err != nil {
		return nil, fmt.Errorf("seal: open: %w", err)
	}
	return plain, nil
}

func preferred() Algorithm {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return AESGCM
	default:
		return ChaCha20
	}
}
