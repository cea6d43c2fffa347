// Package sqlite persists an eeprom.Region in SQLite, one row per cell.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/relay/internal/db"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eeprom"
)

// Region keeps the whole image in memory for reads and writes every changed
// cell through the single-writer worker. A cell write is one upsert in one
// transaction, matching the byte-level atomicity of real EEPROM.
type Region struct {
	name    string
	writer  *dbpkg.Worker
	timeout time.Duration

	mu    sync.RWMutex
	image []byte
}

// Open loads the image named name (size bytes) from db. Cells with no row
// read as zero.
func Open(ctx context.Context, db *sql.DB, writer *dbpkg.Worker, name string, size int) (*Region, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "main"
	}

	r := &Region{
		name:    name,
		writer:  writer,
		timeout: 5 * time.Second,
		image:   make([]byte, size),
	}

	rows, err := db.QueryContext(ctx, `
SELECT addr, value FROM eeprom_cells WHERE region = ?;
`, name)
	if err != nil {
		return nil, fmt.Errorf("Open load region %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var addr, value int
		if err := rows.Scan(&addr, &value); err != nil {
			return nil, fmt.Errorf("Open scan cell: %w", err)
		}
		if addr < 0 || addr >= size {
			// Left over from a larger image; ignored rather than fatal.
			continue
		}
		r.image[addr] = byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Open rows: %w", err)
	}
	return r, nil
}

func (r *Region) ReadCell(addr int) (byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := eeprom.CheckAddr(addr, len(r.image)); err != nil {
		return 0, err
	}
	return r.image[addr], nil
}

// WriteCell persists the cell before updating the cached image, so a failed
// write leaves both unchanged.
func (r *Region) WriteCell(addr int, b byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := eeprom.CheckAddr(addr, len(r.image)); err != nil {
		return err
	}
	if r.image[addr] == b {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	nowMs := time.Now().UTC().UnixMilli()
	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO eeprom_cells(region, addr, value, written_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(region, addr) DO UPDATE SET
  value = excluded.value,
  written_at_ms = excluded.written_at_ms;
`, r.name, addr, int(b), nowMs); err != nil {
			return fmt.Errorf("WriteCell %s[%d]: %w", r.name, addr, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.image[addr] = b
	return nil
}

func (r *Region) Size() int { return len(r.image) }
