package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for receiver persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a receiver by its registry identifier.
	// Returns ErrReceiverNotFound if the receiver does not exist.
	GetByID(ctx context.Context, id string) (*Receiver, error)

	// GetByHost retrieves a receiver by network address.
	// Returns ErrReceiverNotFound if no receiver matches.
	GetByHost(ctx context.Context, host string, port int) (*Receiver, error)

	// List retrieves all known receivers, most recently seen first.
	List(ctx context.Context) ([]Receiver, error)

	// Upsert inserts a receiver or refreshes an existing record.
	// LastSeen is always advanced; FirstSeen is preserved on update.
	Upsert(ctx context.Context, receiver *Receiver) error

	// Delete removes a receiver and its stored state.
	// Returns ErrReceiverNotFound if the receiver does not exist.
	Delete(ctx context.Context, id string) error

	// TouchLastSeen advances a receiver's last_seen timestamp.
	TouchLastSeen(ctx context.Context, id string, seen time.Time) error

	// SetState records the last known value for a status code.
	SetState(ctx context.Context, receiverID, code, argument string) error

	// GetState retrieves the last known value for a status code.
	// Returns ErrReceiverNotFound if no entry exists.
	GetState(ctx context.Context, receiverID, code string) (*StateEntry, error)

	// ListState retrieves all stored state for a receiver.
	ListState(ctx context.Context, receiverID string) ([]StateEntry, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const receiverColumns = `id, host, port, model, area, mac, first_seen, last_seen, created_at, updated_at`

// GetByID retrieves a receiver by its registry identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Receiver, error) {
	query := `SELECT ` + receiverColumns + ` FROM receivers WHERE id = ?`

	receiver, err := scanReceiver(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReceiverNotFound
		}
		return nil, fmt.Errorf("querying receiver by id: %w", err)
	}
	return receiver, nil
}

// GetByHost retrieves a receiver by network address.
func (r *SQLiteRepository) GetByHost(ctx context.Context, host string, port int) (*Receiver, error) {
	query := `SELECT ` + receiverColumns + ` FROM receivers WHERE host = ? AND port = ?`

	receiver, err := scanReceiver(r.db.QueryRowContext(ctx, query, host, port))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReceiverNotFound
		}
		return nil, fmt.Errorf("querying receiver by host: %w", err)
	}
	return receiver, nil
}

// List retrieves all known receivers, most recently seen first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Receiver, error) {
	query := `SELECT ` + receiverColumns + ` FROM receivers ORDER BY last_seen DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying receivers: %w", err)
	}
	defer rows.Close()

	var receivers []Receiver
	for rows.Next() {
		receiver, err := scanReceiver(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receiver: %w", err)
		}
		receivers = append(receivers, *receiver)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receivers: %w", err)
	}

	return receivers, nil
}

// Upsert inserts a receiver or refreshes an existing record.
func (r *SQLiteRepository) Upsert(ctx context.Context, receiver *Receiver) error {
	if receiver.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidReceiver)
	}
	if receiver.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidReceiver)
	}

	now := time.Now().UTC()
	if receiver.FirstSeen.IsZero() {
		receiver.FirstSeen = now
	}
	if receiver.LastSeen.IsZero() {
		receiver.LastSeen = now
	}
	if receiver.CreatedAt.IsZero() {
		receiver.CreatedAt = now
	}
	receiver.UpdatedAt = now

	query := `
		INSERT INTO receivers (id, host, port, model, area, mac, first_seen, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			model = excluded.model,
			area = excluded.area,
			mac = excluded.mac,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		receiver.ID,
		receiver.Host,
		receiver.Port,
		receiver.Model,
		receiver.Area,
		receiver.MAC,
		receiver.FirstSeen.Format(time.RFC3339),
		receiver.LastSeen.Format(time.RFC3339),
		receiver.CreatedAt.Format(time.RFC3339),
		receiver.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting receiver: %w", err)
	}

	return nil
}

// Delete removes a receiver and its stored state.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM receivers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting receiver: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrReceiverNotFound
	}

	return nil
}

// TouchLastSeen advances a receiver's last_seen timestamp.
func (r *SQLiteRepository) TouchLastSeen(ctx context.Context, id string, seen time.Time) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		"UPDATE receivers SET last_seen = ?, updated_at = ? WHERE id = ?",
		seen.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating last_seen: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrReceiverNotFound
	}

	return nil
}

// SetState records the last known value for a status code.
func (r *SQLiteRepository) SetState(ctx context.Context, receiverID, code, argument string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO receiver_state (receiver_id, code, argument, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(receiver_id, code) DO UPDATE SET
			argument = excluded.argument,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query, receiverID, code, argument, now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storing receiver state: %w", err)
	}

	return nil
}

// GetState retrieves the last known value for a status code.
func (r *SQLiteRepository) GetState(ctx context.Context, receiverID, code string) (*StateEntry, error) {
	query := `
		SELECT receiver_id, code, argument, updated_at
		FROM receiver_state
		WHERE receiver_id = ? AND code = ?`

	var entry StateEntry
	var updatedAt string
	err := r.db.QueryRowContext(ctx, query, receiverID, code).Scan(
		&entry.ReceiverID,
		&entry.Code,
		&entry.Argument,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReceiverNotFound
		}
		return nil, fmt.Errorf("querying receiver state: %w", err)
	}

	entry.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &entry, nil
}

// ListState retrieves all stored state for a receiver.
func (r *SQLiteRepository) ListState(ctx context.Context, receiverID string) ([]StateEntry, error) {
	query := `
		SELECT receiver_id, code, argument, updated_at
		FROM receiver_state
		WHERE receiver_id = ?
		ORDER BY code`

	rows, err := r.db.QueryContext(ctx, query, receiverID)
	if err != nil {
		return nil, fmt.Errorf("querying receiver state: %w", err)
	}
	defer rows.Close()

	var entries []StateEntry
	for rows.Next() {
		var entry StateEntry
		var updatedAt string
		if err := rows.Scan(&entry.ReceiverID, &entry.Code, &entry.Argument, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning state entry: %w", err)
		}
		entry.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state entries: %w", err)
	}

	return entries, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanReceiver scans a row or rows result into a Receiver.
func scanReceiver(scanner rowScanner) (*Receiver, error) {
	var rec Receiver
	var firstSeen, lastSeen, createdAt, updatedAt string

	err := scanner.Scan(
		&rec.ID,
		&rec.Host,
		&rec.Port,
		&rec.Model,
		&rec.Area,
		&rec.MAC,
		&firstSeen,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
	rec.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)

	var parseErr error
	rec.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	rec.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &rec, nil
}
