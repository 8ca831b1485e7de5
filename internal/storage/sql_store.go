package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const selectRides = `SELECT id, pickup_location, destination_location, status, created_at, updated_at FROM rides`

// SQLStore keeps rides in a `rides` table on Postgres or SQLite. Both
// drivers accept $N placeholders, so the queries are shared.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// OpenSQL opens and pings the database. SQLite is limited to one
// connection since it allows a single writer.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, feed.Transport("connect", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	return NewSQLStore(db, driver), nil
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, now: time.Now}
}

// Migrate applies the embedded schema. It is idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (models.Ride, error) {
	var (
		r                models.Ride
		status           string
		created, updated sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.PickupLocation, &r.DestinationLocation, &status, &created, &updated); err != nil {
		return models.Ride{}, err
	}
	r.Status = models.Status(status)
	if created.Valid {
		t := created.Time.UTC()
		r.CreatedAt = &t
	}
	if updated.Valid {
		t := updated.Time.UTC()
		r.UpdatedAt = &t
	}
	return r, nil
}

func (s *SQLStore) ReadOnce(ctx context.Context) ([]models.Ride, error) {
	rows, err := s.db.QueryContext(ctx, selectRides+` ORDER BY created_at, id`)
	if err != nil {
		return nil, feed.Transport("read", err)
	}
	defer rows.Close()

	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, feed.Transport("read", err)
	}
	return out, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (models.Ride, error) {
	r, err := scanRide(s.db.QueryRowContext(ctx, selectRides+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, feed.ErrUnknownRecord
	}
	if err != nil {
		return models.Ride{}, feed.Transport("get", err)
	}
	return r, nil
}

func (s *SQLStore) Write(ctx context.Context, id string, fields feed.Fields) error {
	st, err := feed.WritableStatus(fields)
	if err != nil {
		return fmt.Errorf("rejected write to %s: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE rides SET status=$1, updated_at=$2 WHERE id=$3`, string(st), s.now().UTC(), id)
	if err != nil {
		return feed.Transport("write", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return feed.Transport("write", err)
	}
	if n == 0 {
		return feed.ErrUnknownRecord
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	now := s.now().UTC()
	r := models.Ride{
		ID:                  uuid.NewString(),
		PickupLocation:      req.PickupLocation,
		DestinationLocation: req.DestinationLocation,
		Status:              models.StatusRequested,
		CreatedAt:           &now,
		UpdatedAt:           &now,
	}
	if err := r.Validate(); err != nil {
		return models.Ride{}, err
	}
	if err := s.Insert(ctx, r); err != nil {
		return models.Ride{}, err
	}
	return r, nil
}

// Insert stores r as given, including its ID.
func (s *SQLStore) Insert(ctx context.Context, r models.Ride) error {
	r = r.Normalize()
	_, err := s.db.ExecContext(ctx, `INSERT INTO rides(id, pickup_location, destination_location, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6)`,
		r.ID, r.PickupLocation, r.DestinationLocation, string(r.Status), nullTime(r.CreatedAt), nullTime(r.UpdatedAt))
	if err != nil {
		return feed.Transport("insert", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
