// Package eeprom models the device's byte-addressable non-volatile region.
//
// Writes are atomic per byte and nothing more: a power loss between two
// WriteCell calls leaves the earlier byte written and the later one not.
// Callers that update multi-byte fields accept that limitation.
package eeprom

import (
	"errors"
	"fmt"
	"sync"
)

// Size is the region size of the reference device.
const Size = 1024

var (
	ErrOutOfRange = errors.New("eeprom: address out of range")
)

// Region is a persistent store addressed one byte at a time.
type Region interface {
	ReadCell(addr int) (byte, error)
	WriteCell(addr int, b byte) error
	Size() int
}

// CheckAddr reports ErrOutOfRange for addresses outside [0, size).
func CheckAddr(addr, size int) error {
	if addr < 0 || addr >= size {
		return fmt.Errorf("%w: %d (size %d)", ErrOutOfRange, addr, size)
	}
	return nil
}

// Memory is a RAM-backed Region for tests and dry runs.
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemory(size int) *Memory {
	return &Memory{data: make([]byte, size)}
}

func (m *Memory) ReadCell(addr int) (byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := CheckAddr(addr, len(m.data)); err != nil {
		return 0, err
	}
	return m.data[addr], nil
}

func (m *Memory) WriteCell(addr int, b byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := CheckAddr(addr, len(m.data)); err != nil {
		return err
	}
	m.data[addr] = b
	return nil
}

func (m *Memory) Size() int { return len(m.data) }

// Bytes returns a copy of the region contents.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}
