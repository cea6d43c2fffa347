// Package authtable stores which RFID tags may operate the relay.
//
// The table lives in an eeprom.Region laid out as:
//
//	[UserStart, AuthStart)   tag identifiers, TagSize bytes each, append order
//	[AuthStart, CountAddr)   authorization bitmap for indexes 0..239
//	CountAddr                user count (low byte of a little-endian uint16)
//	CountAddr+1              bitmap byte for indexes 240..247 (the count's
//	                         high byte, unused since the count fits a byte)
//
// 248 identifiers, 248 bits and a two-byte count need 1025 bytes, one more
// than the region has. The count never exceeds MaxUsers, so its high byte
// is the only cell that can be shared.
//
// Indexes are assigned on insert and never change. The only way to remove a
// tag is ClearTable.
package authtable

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/Portunus/relay/internal/bittable"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eeprom"
)

const (
	MaxUsers  = 248
	TagSize   = 4
	UserStart = 0
	AuthStart = UserStart + TagSize*MaxUsers
	CountAddr = eeprom.Size - 2

	inlineAuthBits = (CountAddr - AuthStart) * 8
	authTailAddr   = CountAddr + 1
)

var (
	ErrFull       = errors.New("authtable: table full")
	ErrNotFound   = errors.New("authtable: tag not found")
	ErrInvalidTag = errors.New("authtable: invalid tag id")
	ErrRegionSize = errors.New("authtable: region too small")
)

// TagID is the fixed-width identifier read from an RFID credential.
type TagID [TagSize]byte

func (t TagID) String() string { return strings.ToUpper(hex.EncodeToString(t[:])) }

// ParseTagID accepts eight hex digits, optionally separated by ':' or '-'.
func ParseTagID(s string) (TagID, error) {
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(strings.TrimSpace(s))
	var t TagID
	if len(clean) != 2*TagSize {
		return t, fmt.Errorf("%w: %q", ErrInvalidTag, s)
	}
	if _, err := hex.Decode(t[:], []byte(clean)); err != nil {
		return t, fmt.Errorf("%w: %q", ErrInvalidTag, s)
	}
	return t, nil
}

// UpdateResult says what SetAuth or SetUserAuth did.
type UpdateResult int

const (
	Unchanged UpdateResult = iota
	Updated
	NewUser
	Full
)

func (r UpdateResult) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case NewUser:
		return "new_user"
	case Full:
		return "full"
	default:
		return "invalid"
	}
}

// Entry is one row of the table.
type Entry struct {
	Index      int
	Tag        TagID
	Authorized bool
}

type Table struct {
	mu       sync.Mutex
	region   eeprom.Region
	auth     *bittable.Table
	authTail *bittable.Table
}

func New(r eeprom.Region) (*Table, error) {
	if r.Size() < eeprom.Size {
		return nil, fmt.Errorf("%w: %d < %d", ErrRegionSize, r.Size(), eeprom.Size)
	}
	return &Table{
		region:   r,
		auth:     bittable.New(r, AuthStart, inlineAuthBits),
		authTail: bittable.New(r, authTailAddr, MaxUsers-inlineAuthBits),
	}, nil
}

// bits returns the bitmap holding index and the index within it.
func (t *Table) bits(index int) (*bittable.Table, int) {
	if index >= inlineAuthBits {
		return t.authTail, index - inlineAuthBits
	}
	return t.auth, index
}

func (t *Table) getAuth(index int) (bool, error) {
	bt, i := t.bits(index)
	return bt.Get(i)
}

func (t *Table) NumUsers() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numUsers()
}

func (t *Table) numUsers() (int, error) {
	lo, err := t.region.ReadCell(CountAddr)
	if err != nil {
		return 0, fmt.Errorf("NumUsers: %w", err)
	}
	return int(lo), nil
}

func (t *Table) SetNumUsers(n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setNumUsers(n)
}

func (t *Table) setNumUsers(n int) error {
	if n > MaxUsers {
		return ErrFull
	}
	if n < 0 {
		return fmt.Errorf("SetNumUsers: negative count %d", n)
	}
	// n <= MaxUsers < 256: only the low byte is written, the high byte
	// belongs to the bitmap tail.
	if err := t.region.WriteCell(CountAddr, byte(n)); err != nil {
		return fmt.Errorf("SetNumUsers: %w", err)
	}
	return nil
}

// FindUser returns the table index of tag, or ErrNotFound.
func (t *Table) FindUser(tag TagID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findUser(tag)
}

func (t *Table) findUser(tag TagID) (int, error) {
	n, err := t.numUsers()
	if err != nil {
		return 0, err
	}
	// A count above MaxUsers means a corrupt region; scan what can exist.
	n = min(n, MaxUsers)

	for i := 0; i < n; i++ {
		match := true
		for j := 0; j < TagSize && match; j++ {
			b, err := t.region.ReadCell(UserStart + i*TagSize + j)
			if err != nil {
				return 0, fmt.Errorf("FindUser: %w", err)
			}
			match = b == tag[j]
		}
		if match {
			return i, nil
		}
	}
	return 0, ErrNotFound
}

// AddUser appends tag with the given authorization. The count is written
// last, so a failure part way through leaves the previous count in place
// and the half-written slot unreachable.
func (t *Table) AddUser(tag TagID, auth bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addUser(tag, auth)
}

func (t *Table) addUser(tag TagID, auth bool) error {
	n, err := t.numUsers()
	if err != nil {
		return err
	}
	if n >= MaxUsers {
		return ErrFull
	}

	for j := 0; j < TagSize; j++ {
		if err := t.region.WriteCell(UserStart+n*TagSize+j, tag[j]); err != nil {
			return fmt.Errorf("AddUser write tag: %w", err)
		}
	}
	// The slot may hold a stale bit from before a partial write; force it.
	bt, i := t.bits(n)
	if _, err := bt.Set(i, auth); err != nil {
		return fmt.Errorf("AddUser write auth: %w", err)
	}
	return t.setNumUsers(n + 1)
}

// SetAuth sets the authorization bit of the entry at index. It compares the
// stored bit with the requested value and writes only when they differ.
func (t *Table) SetAuth(index int, auth bool) (UpdateResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setAuth(index, auth)
}

func (t *Table) setAuth(index int, auth bool) (UpdateResult, error) {
	if index < 0 || index >= MaxUsers {
		return Unchanged, fmt.Errorf("SetAuth %d: %w", index, bittable.ErrIndexOutOfRange)
	}
	bt, i := t.bits(index)
	changed, err := bt.Set(i, auth)
	if err != nil {
		return Unchanged, fmt.Errorf("SetAuth %d: %w", index, err)
	}
	if changed {
		return Updated, nil
	}
	return Unchanged, nil
}

// SetUserAuth updates tag's authorization, adding the tag when it is not in
// the table yet. A full table is reported as Full, not as an error.
func (t *Table) SetUserAuth(tag TagID, auth bool) (UpdateResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, err := t.findUser(tag)
	switch {
	case err == nil:
		return t.setAuth(idx, auth)
	case !errors.Is(err, ErrNotFound):
		return Unchanged, err
	}

	if err := t.addUser(tag, auth); err != nil {
		if errors.Is(err, ErrFull) {
			return Full, nil
		}
		return Unchanged, err
	}
	return NewUser, nil
}

// Lookup reports whether tag is in the table and, if so, whether it is
// authorized.
func (t *Table) Lookup(tag TagID) (known, authorized bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, err := t.findUser(tag)
	if errors.Is(err, ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	authorized, err = t.getAuth(idx)
	if err != nil {
		return true, false, err
	}
	return true, authorized, nil
}

// Entries lists the table in index order.
func (t *Table) Entries() ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.numUsers()
	if err != nil {
		return nil, err
	}
	n = min(n, MaxUsers)

	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		e := Entry{Index: i}
		for j := 0; j < TagSize; j++ {
			b, err := t.region.ReadCell(UserStart + i*TagSize + j)
			if err != nil {
				return nil, fmt.Errorf("Entries: %w", err)
			}
			e.Tag[j] = b
		}
		if e.Authorized, err = t.getAuth(i); err != nil {
			return nil, fmt.Errorf("Entries: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ClearTable zeroes the whole region, count included.
func (t *Table) ClearTable() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Count first: if power drops mid-clear the table already reads empty.
	if err := t.setNumUsers(0); err != nil {
		return fmt.Errorf("ClearTable: %w", err)
	}
	for addr := 0; addr < t.region.Size(); addr++ {
		if err := t.region.WriteCell(addr, 0); err != nil {
			return fmt.Errorf("ClearTable: %w", err)
		}
	}
	return nil
}
