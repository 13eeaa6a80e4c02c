package seal

import (
	"bytes"
	"errors"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestNewRejectsKeySize(t *testing.T) {
	for _, n := range []int{0, 16, 24, 31, 33} {
		if _, err := New(make([]byte, n)); !errors.Is(err, ErrKeySize) {
			t.Errorf("New(%d-byte key) error = %v, want ErrKeySize", n, err)
		}
	}
}

func TestSealOpen(t *testing.T) {
	for _, alg := range []Algorithm{AESGCM, ChaCha20} {
		t.Run(alg.String(), func(t *testing.T) {
			s, err := NewWith(testKey(), alg)
			if err != nil {
				t.Fatalf("NewWith: %v", err)
			}
			plain := []byte("checkpoint state")
			sealed, err := s.Seal(plain, []byte("aad"))
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if len(sealed) != len(plain)+s.Overhead() {
				t.Errorf("sealed length = %d, want %d", len(sealed), len(plain)+s.Overhead())
			}
			if Algorithm(sealed[0]) != alg {
				t.Errorf("tag = %d, want %d", sealed[0], alg)
			}
			got, err := s.Open(sealed, []byte("aad"))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(got, plain) {
				t.Errorf("Open = %q, want %q", got, plain)
			}
		})
	}
}

func TestOpenAcrossAlgorithms(t *testing.T) {
	a, _ := NewWith(testKey(), AESGCM)
	c, _ := NewWith(testKey(), ChaCha20)

	sealed, err := a.Seal([]byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, err := c.Open(sealed, nil); err != nil || string(got) != "x" {
		t.Errorf("Open by other preference = %q, %v", got, err)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	s, _ := New(testKey())
	sealed, _ := s.Seal([]byte("payload"), []byte("v1"))

	if _, err := s.Open(sealed, []byte("v2")); err == nil {
		t.Error("Open with different aad succeeded")
	}

	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)-1] ^= 0xff
	if _, err := s.Open(flipped, []byte("v1")); err == nil {
		t.Error("Open of modified payload succeeded")
	}

	other := testKey()
	other[0] ^= 1
	o, _ := New(other)
	if _, err := o.Open(sealed, []byte("v1")); err == nil {
		t.Error("Open with another key succeeded")
	}
}

func TestOpenMalformed(t *testing.T) {
	s, _ := New(testKey())
	for _, in := range [][]byte{nil, {1}, {9, 0, 0, 0}, append([]byte{2}, make([]byte, 10)...)} {
		if _, err := s.Open(in, nil); !errors.Is(err, ErrMalformed) {
			t.Errorf("Open(%v) error = %v, want ErrMalformed", in, err)
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := map[string]Algorithm{"": Auto, "auto": Auto, "aes-gcm": AESGCM, "chacha20-poly1305": ChaCha20}
	for in, want := range tests {
		got, err := ParseAlgorithm(in)
		if err != nil || got != want {
			t.Errorf("ParseAlgorithm(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseAlgorithm("rot13"); err == nil {
		t.Error("ParseAlgorithm(rot13) succeeded")
	}
}
