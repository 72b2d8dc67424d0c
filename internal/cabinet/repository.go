package cabinet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines persistence operations for sites and cabinets.
type Repository interface {
	// GetAnySite returns the deployment's site record.
	// Returns ErrSiteNotFound if none has been created.
	GetAnySite(ctx context.Context) (*Site, error)

	// CreateSite inserts a new site.
	CreateSite(ctx context.Context, site *Site) error

	// UpdateSite modifies an existing site.
	UpdateSite(ctx context.Context, site *Site) error

	// GetCabinet retrieves a cabinet by ID.
	// Returns ErrCabinetNotFound if it does not exist.
	GetCabinet(ctx context.Context, id string) (*Cabinet, error)

	// ListCabinets retrieves all cabinets, ordered by name.
	ListCabinets(ctx context.Context) ([]Cabinet, error)

	// ListCabinetsBySite retrieves all cabinets at a site.
	ListCabinetsBySite(ctx context.Context, siteID string) ([]Cabinet, error)

	// CreateCabinet inserts a new cabinet.
	// Returns ErrCabinetExists if the site/slug pair is taken.
	CreateCabinet(ctx context.Context, c *Cabinet) error

	// UpdateCabinet modifies an existing cabinet.
	UpdateCabinet(ctx context.Context, c *Cabinet) error

	// DeleteCabinet removes a cabinet.
	// Returns ErrCabinetHasDoors while any door references it.
	DeleteCabinet(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetAnySite returns the deployment's site record.
func (r *SQLiteRepository) GetAnySite(ctx context.Context) (*Site, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, slug, timezone, created_at, updated_at FROM sites LIMIT 1")

	var s Site
	var createdAt, updatedAt string
	err := row.Scan(&s.ID, &s.Name, &s.Slug, &s.Timezone, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSiteNotFound
		}
		return nil, fmt.Errorf("querying site: %w", err)
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

// CreateSite inserts a new site.
func (r *SQLiteRepository) CreateSite(ctx context.Context, site *Site) error {
	if err := ValidateName(site.Name); err != nil {
		return err
	}
	if site.Slug == "" {
		site.Slug = GenerateSlug(site.Name)
	}
	if err := ValidateSlug(site.Slug); err != nil {
		return err
	}
	if site.Timezone == "" {
		site.Timezone = "UTC"
	}

	now := time.Now().UTC()
	site.CreatedAt = now
	site.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, slug, timezone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		site.ID, site.Name, site.Slug, site.Timezone,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting site: %w", err)
	}
	return nil
}

// UpdateSite modifies an existing site.
func (r *SQLiteRepository) UpdateSite(ctx context.Context, site *Site) error {
	if err := ValidateName(site.Name); err != nil {
		return err
	}

	site.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE sites SET name = ?, slug = ?, timezone = ?, updated_at = ?
		WHERE id = ?`,
		site.Name, site.Slug, site.Timezone,
		site.UpdatedAt.Format(time.RFC3339), site.ID,
	)
	if err != nil {
		return fmt.Errorf("updating site: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSiteNotFound
	}
	return nil
}

// GetCabinet retrieves a cabinet by ID.
func (r *SQLiteRepository) GetCabinet(ctx context.Context, id string) (*Cabinet, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, site_id, name, slug, location, created_at, updated_at
		FROM cabinets WHERE id = ?`, id)

	c, err := scanCabinet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCabinetNotFound
		}
		return nil, fmt.Errorf("querying cabinet: %w", err)
	}
	return c, nil
}

// ListCabinets retrieves all cabinets, ordered by name.
func (r *SQLiteRepository) ListCabinets(ctx context.Context) ([]Cabinet, error) {
	return r.queryCabinets(ctx, `
		SELECT id, site_id, name, slug, location, created_at, updated_at
		FROM cabinets ORDER BY name`)
}

// ListCabinetsBySite retrieves all cabinets at a site.
func (r *SQLiteRepository) ListCabinetsBySite(ctx context.Context, siteID string) ([]Cabinet, error) {
	return r.queryCabinets(ctx, `
		SELECT id, site_id, name, slug, location, created_at, updated_at
		FROM cabinets WHERE site_id = ? ORDER BY name`, siteID)
}

// CreateCabinet inserts a new cabinet.
func (r *SQLiteRepository) CreateCabinet(ctx context.Context, c *Cabinet) error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if c.Slug == "" {
		c.Slug = GenerateSlug(c.Name)
	}
	if err := ValidateSlug(c.Slug); err != nil {
		return err
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cabinets (id, site_id, name, slug, location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SiteID, c.Name, c.Slug, nullStr(c.Location),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrCabinetExists
		}
		return fmt.Errorf("inserting cabinet: %w", err)
	}
	return nil
}

// UpdateCabinet modifies an existing cabinet.
func (r *SQLiteRepository) UpdateCabinet(ctx context.Context, c *Cabinet) error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if err := ValidateSlug(c.Slug); err != nil {
		return err
	}

	c.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE cabinets SET name = ?, slug = ?, location = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Slug, nullStr(c.Location),
		c.UpdatedAt.Format(time.RFC3339), c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating cabinet: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCabinetNotFound
	}
	return nil
}

// DeleteCabinet removes a cabinet. Refused while doors reference it.
func (r *SQLiteRepository) DeleteCabinet(ctx context.Context, id string) error {
	var doorCount int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM doors WHERE cabinet_id = ?", id,
	).Scan(&doorCount)
	if err != nil {
		return fmt.Errorf("counting cabinet doors: %w", err)
	}
	if doorCount > 0 {
		return ErrCabinetHasDoors
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM cabinets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting cabinet: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCabinetNotFound
	}
	return nil
}

// queryCabinets executes a query and returns a slice of cabinets.
func (r *SQLiteRepository) queryCabinets(ctx context.Context, query string, args ...any) ([]Cabinet, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cabinets: %w", err)
	}
	defer rows.Close()

	var cabinets []Cabinet
	for rows.Next() {
		c, err := scanCabinet(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cabinet: %w", err)
		}
		cabinets = append(cabinets, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cabinets: %w", err)
	}
	return cabinets, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCabinet scans a row or rows result into a Cabinet.
func scanCabinet(scanner rowScanner) (*Cabinet, error) {
	var c Cabinet
	var location sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(&c.ID, &c.SiteID, &c.Name, &c.Slug, &location, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if location.Valid {
		c.Location = &location.String
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// nullStr converts an optional string pointer to sql.NullString.
func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// parseTime parses an RFC3339 timestamp, returning the zero time on error.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
