package entry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the persistence operations for config entries.
type Repository interface {
	// Get retrieves an entry by ID.
	// Returns ErrEntryNotFound if the entry does not exist.
	Get(ctx context.Context, id string) (*Entry, error)

	// List retrieves all entries ordered by creation time.
	List(ctx context.Context) ([]Entry, error)

	// ListByController retrieves the entries of one controller.
	ListByController(ctx context.Context, controllerID string) ([]Entry, error)

	// Create inserts a new entry, assigning an ID if empty.
	// Returns ErrEntryExists if the controller is already linked to the
	// same climate entity.
	Create(ctx context.Context, e *Entry) error

	// Update rewrites the title and data of an existing entry.
	// Returns ErrEntryNotFound if the entry does not exist.
	Update(ctx context.Context, e *Entry) error

	// Delete removes an entry by ID.
	// Returns ErrEntryNotFound if the entry does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectEntries = `
	SELECT id, title, data, created_at, updated_at
	FROM config_entries`

// Get retrieves an entry by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, selectEntries+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying entry by id: %w", err)
	}
	return e, nil
}

// List retrieves all entries.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	return r.queryEntries(ctx, selectEntries+` ORDER BY created_at, id`)
}

// ListByController retrieves the entries of one controller.
func (r *SQLiteRepository) ListByController(ctx context.Context, controllerID string) ([]Entry, error) {
	return r.queryEntries(ctx, selectEntries+` WHERE controller_id = ? ORDER BY created_at, id`, controllerID)
}

// Create inserts a new entry.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshalling entry data: %w", err)
	}

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	query := `
		INSERT INTO config_entries (
			id, controller_id, climate_entity_id, title, data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		e.ID,
		e.ControllerID(),
		e.ClimateEntityID(),
		e.Title,
		string(data),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEntryExists
		}
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

// Update rewrites an existing entry. The controller and climate ids are
// re-derived from the data so the uniqueness constraint keeps holding.
func (r *SQLiteRepository) Update(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshalling entry data: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE config_entries SET
			controller_id = ?, climate_entity_id = ?, title = ?, data = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		e.ControllerID(),
		e.ClimateEntityID(),
		e.Title,
		string(data),
		now.Format(time.RFC3339Nano),
		e.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEntryExists
		}
		return fmt.Errorf("updating entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEntryNotFound
	}

	e.UpdatedAt = now
	return nil
}

// Delete removes an entry by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM config_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                    Entry
		data                 string
		createdAt, updatedAt string
	)

	if err := row.Scan(&e.ID, &e.Title, &data, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
		return nil, fmt.Errorf("unmarshalling data for entry %s: %w", e.ID, err)
	}

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &e, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
