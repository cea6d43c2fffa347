// Package bittable packs booleans eight to a byte inside an eeprom.Region.
package bittable

import (
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/Portunus/relay/internal/eeprom"
)

var (
	ErrIndexOutOfRange = errors.New("bittable: index out of range")
)

// Table addresses bits [0, bits) starting at byte base of the region.
// Bit i lives in byte base+i/8 under mask 1<<(i%8).
type Table struct {
	region eeprom.Region
	base   int
	bits   int
}

// New returns a table of bits entries at base. It panics if the table
// does not fit in the region.
func New(r eeprom.Region, base, bits int) *Table {
	if base < 0 || bits < 0 || base+Bytes(bits) > r.Size() {
		panic(fmt.Sprintf("bittable: %d bits at %d do not fit in %d bytes", bits, base, r.Size()))
	}
	return &Table{region: r, base: base, bits: bits}
}

// Bytes is the number of bytes needed to hold n bits.
func Bytes(n int) int { return (n + 7) / 8 }

func (t *Table) Len() int { return t.bits }

func (t *Table) locate(index int) (addr int, mask byte, err error) {
	if index < 0 || index >= t.bits {
		return 0, 0, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, t.bits)
	}
	return t.base + index/8, 1 << (index % 8), nil
}

func (t *Table) Get(index int) (bool, error) {
	addr, mask, err := t.locate(index)
	if err != nil {
		return false, err
	}
	b, err := t.region.ReadCell(addr)
	if err != nil {
		return false, err
	}
	return b&mask != 0, nil
}

// Set stores v at index. The byte is only rewritten when the bit actually
// changes; changed reports whether it did.
func (t *Table) Set(index int, v bool) (changed bool, err error) {
	addr, mask, err := t.locate(index)
	if err != nil {
		return false, err
	}
	b, err := t.region.ReadCell(addr)
	if err != nil {
		return false, err
	}
	if (b&mask != 0) == v {
		return false, nil
	}
	if err := t.region.WriteCell(addr, b^mask); err != nil {
		return false, err
	}
	return true, nil
}
