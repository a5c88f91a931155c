package petstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	registry "github.com/always-cache/httpet/pkg/animal-registry"

	_ "github.com/glebarez/go-sqlite"
	"github.com/pkg/errors"
)

// MemoryDSN opens a shared in-memory database.
const MemoryDSN = "file::memory:?cache=shared"

var (
	ErrNotFound       = errors.New("pet not found")
	ErrInvalidName    = errors.New("invalid pet name")
	ErrInvalidStatus  = errors.New("invalid pet status")
	ErrAlreadyEnabled = errors.New("pet is already enabled")
)

// Status is the visibility of a pet.
type Status string

const (
	// Submitted pets are hidden.
	Submitted Status = "submitted"
	// Voting pets can be voted on.
	Voting Status = "voting"
	// Enabled pets are served.
	Enabled Status = "enabled"
)

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case Submitted, Voting, Enabled:
		return Status(s), nil
	}
	return "", errors.Wrapf(ErrInvalidStatus, "%q", s)
}

type Pet struct {
	ID        int64
	Name      string
	Status    Status
	CreatedAt time.Time
	// Votes is the total number of votes, filled in by List.
	Votes int64
}

// Store keeps pet metadata in sqlite.
type Store struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	now        func() time.Time
}

// Open opens (and creates if needed) the database with the given file name.
// If file name is empty, a new in-memory db is opened.
func Open(filename string) (*Store, error) {
	if filename == "" {
		filename = MemoryDSN
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, errors.Wrap(err, "open pet database")
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS pets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'submitted',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pet_id INTEGER NOT NULL REFERENCES pets(id) ON DELETE CASCADE,
			vote_date TEXT NOT NULL,
			vote_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE (pet_id, vote_date)
		)`,
		"CREATE INDEX IF NOT EXISTS pets_status_idx ON pets (status)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "initialize pet database")
		}
	}
	return &Store{
		db:         db,
		writeMutex: &sync.Mutex{},
		now:        time.Now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func normalizeName(name string) (string, error) {
	id, ok := registry.ParseIdentifier(name)
	if !ok {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return id, nil
}

// Upsert creates the pet or updates its status.
func (s *Store) Upsert(ctx context.Context, name string, status Status) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO pets (name, status, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET status = excluded.status`,
		name, string(status), s.now().Unix())
	return errors.Wrapf(err, "upsert pet %s", name)
}

// Get returns a single pet without its vote total.
func (s *Store) Get(ctx context.Context, name string) (Pet, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Pet{}, err
	}
	var pet Pet
	var status string
	var created int64
	err = s.db.QueryRowContext(ctx, "SELECT id, name, status, created_at FROM pets WHERE name = ?", name).
		Scan(&pet.ID, &pet.Name, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Pet{}, errors.Wrapf(ErrNotFound, "%s", name)
	}
	if err != nil {
		return Pet{}, errors.Wrapf(err, "get pet %s", name)
	}
	pet.Status = Status(status)
	pet.CreatedAt = time.Unix(created, 0)
	return pet, nil
}

// Delete removes a pet and its votes.
func (s *Store) Delete(ctx context.Context, name string) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM votes WHERE pet_id IN (SELECT id FROM pets WHERE name = ?)", name); err != nil {
		return errors.Wrapf(err, "delete votes of %s", name)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM pets WHERE name = ?", name)
	if err != nil {
		return errors.Wrapf(err, "delete pet %s", name)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "%s", name)
	}
	return errors.Wrap(tx.Commit(), "commit delete")
}

// List returns all pets with their vote totals, ordered by name.
func (s *Store) List(ctx context.Context) ([]Pet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT p.id, p.name, p.status, p.created_at, COALESCE(SUM(v.vote_count), 0)
		FROM pets p LEFT JOIN votes v ON v.pet_id = p.id
		GROUP BY p.id ORDER BY p.name`)
	if err != nil {
		return nil, errors.Wrap(err, "list pets")
	}
	defer rows.Close()
	pets := make([]Pet, 0)
	for rows.Next() {
		var pet Pet
		var status string
		var created int64
		if err := rows.Scan(&pet.ID, &pet.Name, &status, &created, &pet.Votes); err != nil {
			return nil, errors.Wrap(err, "scan pet")
		}
		pet.Status = Status(status)
		pet.CreatedAt = time.Unix(created, 0)
		pets = append(pets, pet)
	}
	return pets, errors.Wrap(rows.Err(), "list pets")
}

// Enabled returns the names of the enabled pets, ordered by name.
func (s *Store) Enabled(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pets WHERE status = ? ORDER BY name", string(Enabled))
	if err != nil {
		return nil, errors.Wrap(err, "list enabled pets")
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan pet name")
		}
		names = append(names, name)
	}
	return names, errors.Wrap(rows.Err(), "list enabled pets")
}

// Sync inserts the given names as enabled pets unless they are already known.
// Existing pets keep their status. It returns the number of pets added.
func (s *Store) Sync(ctx context.Context, names []string) (int, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	added := 0
	for _, name := range names {
		name, err := normalizeName(name)
		if err != nil {
			return added, err
		}
		res, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO pets (name, status, created_at) VALUES (?, ?, ?)",
			name, string(Enabled), s.now().Unix())
		if err != nil {
			return added, errors.Wrapf(err, "sync pet %s", name)
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}
	return added, nil
}

// Vote counts a vote for a pet on the given day.
// Unknown pets are created as submitted. Enabled pets cannot be voted on.
func (s *Store) Vote(ctx context.Context, name string, day time.Time) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin vote")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO pets (name, status, created_at) VALUES (?, ?, ?)",
		name, string(Submitted), s.now().Unix()); err != nil {
		return errors.Wrapf(err, "create pet %s", name)
	}
	var id int64
	var status string
	if err := tx.QueryRowContext(ctx, "SELECT id, status FROM pets WHERE name = ?", name).Scan(&id, &status); err != nil {
		return errors.Wrapf(err, "find pet %s", name)
	}
	if Status(status) == Enabled {
		return errors.Wrapf(ErrAlreadyEnabled, "%s", name)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO votes (pet_id, vote_date, vote_count) VALUES (?, ?, 1)
		ON CONFLICT(pet_id, vote_date) DO UPDATE SET vote_count = vote_count + 1`,
		id, day.UTC().Format("2006-01-02")); err != nil {
		return errors.Wrapf(err, "record vote for %s", name)
	}
	return errors.Wrap(tx.Commit(), "commit vote")
}

// Votes returns the number of votes of a pet on the given day.
func (s *Store) Votes(ctx context.Context, name string, day time.Time) (int64, error) {
	name, err := normalizeName(name)
	if err != nil {
		return 0, err
	}
	var count int64
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(v.vote_count), 0) FROM votes v
		JOIN pets p ON p.id = v.pet_id WHERE p.name = ? AND v.vote_date = ?`,
		name, day.UTC().Format("2006-01-02")).Scan(&count)
	return count, errors.Wrapf(err, "count votes for %s", name)
}
