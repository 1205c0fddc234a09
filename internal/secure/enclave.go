package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrEmpty is returned when asked to protect an empty value.
var ErrEmpty = errors.New("secure: refusing to store empty value")

// ErrDestroyed is returned when a destroyed buffer is revealed.
var ErrDestroyed = errors.New("secure: buffer destroyed")

// SecureBuffer wraps a memguard.Enclave.
type SecureBuffer struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// NewSecureBuffer moves data into an enclave. memguard wipes data after
// copying it, so callers must not reuse the slice.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return &SecureBuffer{enclave: memguard.NewEnclave(data)}, nil
}

// Reveal decrypts the value into a locked buffer, hands it to fn and wipes it
// again when fn returns. fn must not retain the slice.
func (s *SecureBuffer) Reveal(fn func(plain []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return ErrDestroyed
	}

	locked, err := s.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Destroy drops the enclave. Idempotent.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.destroyed = true
}

// Purge wipes every memguard allocation. Call once on exit.
func Purge() {
	memguard.Purge()
}
