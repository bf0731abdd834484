package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device persistence operations.
type Repository interface {
	// Get retrieves a device by domain and ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Get(ctx context.Context, domain, id string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Upsert inserts the device or replaces the stored metadata.
	Upsert(ctx context.Context, d *Device) error

	// Delete removes a device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, domain, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevices = `
	SELECT domain, id, name, manufacturer, model, sw_version, hw_version,
		created_at, updated_at
	FROM devices`

// Get retrieves a device by domain and ID.
func (r *SQLiteRepository) Get(ctx context.Context, domain, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevices+` WHERE domain = ? AND id = ?`, domain, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevices+` ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Upsert inserts the device or replaces its metadata. CreatedAt is kept
// from the first insert.
func (r *SQLiteRepository) Upsert(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	query := `
		INSERT INTO devices (
			domain, id, name, manufacturer, model, sw_version, hw_version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain, id) DO UPDATE SET
			name = excluded.name,
			manufacturer = excluded.manufacturer,
			model = excluded.model,
			sw_version = excluded.sw_version,
			hw_version = excluded.hw_version,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		d.Domain,
		d.ID,
		d.Name,
		d.Manufacturer,
		d.Model,
		d.SWVersion,
		d.HWVersion,
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// Delete removes a device.
func (r *SQLiteRepository) Delete(ctx context.Context, domain, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE domain = ? AND id = ?`, domain, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                    Device
		createdAt, updatedAt string
	)

	err := row.Scan(
		&d.Domain, &d.ID, &d.Name, &d.Manufacturer, &d.Model,
		&d.SWVersion, &d.HWVersion, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}
