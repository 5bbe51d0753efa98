package vm

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// ProgramStore: content-addressed sqlite store of assembled programs
// ---------------------------------------------------------------------------

// ErrProgramNotFound indicates no program with the requested digest exists.
var ErrProgramNotFound = errors.New("program not found")

var storeLog = commonlog.GetLogger("svm.store")

// ProgramStore keeps CBOR snapshots of assembled programs in a sqlite
// database, keyed by the digest of the plaintext container they came from.
// Assembling the same source twice lands on the same row regardless of the
// obfuscation password, since the keystream is stripped before hashing.
type ProgramStore struct {
	db *sql.DB
	mu sync.Mutex
}

// ProgramRecord is one stored program's metadata.
type ProgramRecord struct {
	Digest    string
	RunID     uuid.UUID
	CreatedAt time.Time
}

// ContainerDigest returns the hex digest addressing a plaintext container.
func ContainerDigest(plain []byte) string {
	sum := sha256.Sum256(plain)
	return hex.EncodeToString(sum[:])
}

// OpenProgramStore opens or creates the store database at path.
func OpenProgramStore(path string) (*ProgramStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		digest TEXT PRIMARY KEY,
		snapshot BLOB NOT NULL,
		run_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &ProgramStore{db: db}, nil
}

// Close closes the database connection.
func (ps *ProgramStore) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}

// Put stores a program snapshot under its digest. Re-putting a digest
// replaces the row.
func (ps *ProgramStore) Put(digest string, snapshot []byte, runID uuid.UUID) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, err := ps.db.Exec(
		"INSERT OR REPLACE INTO programs (digest, snapshot, run_id, created_at) VALUES (?, ?, ?, ?)",
		digest, snapshot, runID.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	storeLog.Debugf("stored program %s (run %s)", digest, runID)
	return nil
}

// Get retrieves a program snapshot by digest.
func (ps *ProgramStore) Get(digest string) ([]byte, error) {
	var snapshot []byte
	err := ps.db.QueryRow("SELECT snapshot FROM programs WHERE digest = ?", digest).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProgramNotFound
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}
	return snapshot, nil
}

// Has reports whether a program with the given digest is stored.
func (ps *ProgramStore) Has(digest string) (bool, error) {
	var one int
	err := ps.db.QueryRow("SELECT 1 FROM programs WHERE digest = ?", digest).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying program: %w", err)
	}
	return true, nil
}

// List returns metadata for every stored program, newest first.
func (ps *ProgramStore) List() ([]ProgramRecord, error) {
	rows, err := ps.db.Query("SELECT digest, run_id, created_at FROM programs ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var records []ProgramRecord
	for rows.Next() {
		var rec ProgramRecord
		var runID string
		if err := rows.Scan(&rec.Digest, &runID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning program row: %w", err)
		}
		rec.RunID, err = uuid.Parse(runID)
		if err != nil {
			return nil, fmt.Errorf("parsing run id %q: %w", runID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
