package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/igormart21/milha-alerta-fly/internal/models"
)

var (
	// ErrNotFound is returned when no alert has the requested id.
	ErrNotFound = errors.New("alert not found")
	// ErrVersionConflict is returned when an alert changed since it was read.
	ErrVersionConflict = errors.New("alert was modified concurrently")
)

// timestampLayout is fixed-width so text ordering matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
	sb   sq.StatementBuilderType
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			date_from TEXT,
			date_to TEXT,
			flex_days INTEGER NOT NULL,
			passengers INTEGER NOT NULL,
			cabin_class TEXT NOT NULL,
			max_miles INTEGER NOT NULL,
			max_value_brl TEXT NOT NULL,
			status TEXT NOT NULL,
			notify_phone TEXT NOT NULL DEFAULT '',
			opp_miles INTEGER,
			opp_taxes_brl TEXT,
			opp_total_brl TEXT,
			opp_provider TEXT,
			opp_found_at TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

var alertColumns = []string{
	"id", "owner_id", "origin", "destination", "date_from", "date_to",
	"flex_days", "passengers", "cabin_class", "max_miles", "max_value_brl",
	"status", "notify_phone",
	"opp_miles", "opp_taxes_brl", "opp_total_brl", "opp_provider", "opp_found_at",
	"version", "created_at", "updated_at",
}

// InsertAlert stores a new alert.
func (db *DB) InsertAlert(ctx context.Context, alert models.Alert) error {
	oppMiles, oppTaxes, oppTotal, oppProvider, oppFoundAt := opportunityColumns(alert.LastOpportunity)

	query, args, err := db.sb.
		Insert("alerts").
		Columns(alertColumns...).
		Values(
			alert.ID,
			alert.OwnerID,
			alert.Origin,
			alert.Destination,
			formatDate(alert.DateFrom),
			formatDate(alert.DateTo),
			alert.FlexDays,
			alert.Passengers,
			string(alert.CabinClass),
			alert.MaxMiles,
			alert.MaxValueBRL.String(),
			string(alert.Status),
			alert.NotifyPhone,
			oppMiles, oppTaxes, oppTotal, oppProvider, oppFoundAt,
			alert.Version,
			alert.CreatedAt.UTC().Format(timestampLayout),
			alert.UpdatedAt.UTC().Format(timestampLayout),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert alert sql: %w", err)
	}

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

// UpdateAlert persists alert if the stored version still equals
// expectedVersion. alert.Version must already hold the new version.
func (db *DB) UpdateAlert(ctx context.Context, alert models.Alert, expectedVersion int64) error {
	oppMiles, oppTaxes, oppTotal, oppProvider, oppFoundAt := opportunityColumns(alert.LastOpportunity)

	query, args, err := db.sb.
		Update("alerts").
		SetMap(map[string]interface{}{
			"max_miles":     alert.MaxMiles,
			"max_value_brl": alert.MaxValueBRL.String(),
			"status":        string(alert.Status),
			"opp_miles":     oppMiles,
			"opp_taxes_brl": oppTaxes,
			"opp_total_brl": oppTotal,
			"opp_provider":  oppProvider,
			"opp_found_at":  oppFoundAt,
			"version":       alert.Version,
			"updated_at":    alert.UpdatedAt.UTC().Format(timestampLayout),
		}).
		Where(sq.Eq{"id": alert.ID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update alert sql: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", alert.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		if _, err := db.GetAlert(ctx, alert.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}

	return nil
}

// GetAlert returns the alert with the given id.
func (db *DB) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	query, args, err := db.sb.
		Select(alertColumns...).
		From("alerts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.Alert{}, fmt.Errorf("build get alert sql: %w", err)
	}

	alert, err := scanAlert(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alert{}, ErrNotFound
	}
	if err != nil {
		return models.Alert{}, err
	}

	return alert, nil
}

// DeleteAlert removes the alert with the given id.
func (db *DB) DeleteAlert(ctx context.Context, id string) error {
	query, args, err := db.sb.Delete("alerts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete alert sql: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete alert %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListAlertsByOwner returns the owner's alerts in creation order.
func (db *DB) ListAlertsByOwner(ctx context.Context, ownerID string) ([]models.Alert, error) {
	return db.listAlerts(ctx, sq.Eq{"owner_id": ownerID})
}

// ListAlertsByStatus returns every alert in the given status, oldest first.
func (db *DB) ListAlertsByStatus(ctx context.Context, status models.Status) ([]models.Alert, error) {
	return db.listAlerts(ctx, sq.Eq{"status": string(status)})
}

func (db *DB) listAlerts(ctx context.Context, where sq.Sqlizer) ([]models.Alert, error) {
	query, args, err := db.sb.
		Select(alertColumns...).
		From("alerts").
		Where(where).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list alerts sql: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (models.Alert, error) {
	var (
		alert                        models.Alert
		dateFrom, dateTo             sql.NullString
		cabinClass, maxValue, status string
		oppMiles                     sql.NullInt64
		oppTaxes, oppTotal           sql.NullString
		oppProvider, oppFoundAt      sql.NullString
		createdAt, updatedAt         string
	)

	err := row.Scan(
		&alert.ID,
		&alert.OwnerID,
		&alert.Origin,
		&alert.Destination,
		&dateFrom,
		&dateTo,
		&alert.FlexDays,
		&alert.Passengers,
		&cabinClass,
		&alert.MaxMiles,
		&maxValue,
		&status,
		&alert.NotifyPhone,
		&oppMiles,
		&oppTaxes,
		&oppTotal,
		&oppProvider,
		&oppFoundAt,
		&alert.Version,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alert{}, err
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert.CabinClass = models.CabinClass(cabinClass)
	alert.Status = models.Status(status)

	if alert.DateFrom, err = parseDate(dateFrom); err != nil {
		return models.Alert{}, fmt.Errorf("failed to parse date_from: %w", err)
	}
	if alert.DateTo, err = parseDate(dateTo); err != nil {
		return models.Alert{}, fmt.Errorf("failed to parse date_to: %w", err)
	}

	if alert.MaxValueBRL, err = decimal.NewFromString(maxValue); err != nil {
		return models.Alert{}, fmt.Errorf("failed to parse max_value_brl: %w", err)
	}

	if alert.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return models.Alert{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if alert.UpdatedAt, err = time.Parse(timestampLayout, updatedAt); err != nil {
		return models.Alert{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	if oppMiles.Valid {
		opp := &models.Opportunity{
			Miles:    oppMiles.Int64,
			Provider: oppProvider.String,
		}
		if opp.TaxesBRL, err = decimal.NewFromString(oppTaxes.String); err != nil {
			return models.Alert{}, fmt.Errorf("failed to parse opp_taxes_brl: %w", err)
		}
		if opp.TotalBRL, err = decimal.NewFromString(oppTotal.String); err != nil {
			return models.Alert{}, fmt.Errorf("failed to parse opp_total_brl: %w", err)
		}
		if opp.FoundAt, err = time.Parse(timestampLayout, oppFoundAt.String); err != nil {
			return models.Alert{}, fmt.Errorf("failed to parse opp_found_at: %w", err)
		}
		alert.LastOpportunity = opp
	}

	return alert, nil
}

// opportunityColumns flattens an optional opportunity into nullable column values.
func opportunityColumns(opp *models.Opportunity) (miles, taxes, total, provider, foundAt interface{}) {
	if opp == nil {
		return nil, nil, nil, nil, nil
	}
	return opp.Miles,
		opp.TaxesBRL.String(),
		opp.TotalBRL.String(),
		opp.Provider,
		opp.FoundAt.UTC().Format(timestampLayout)
}

func formatDate(d *models.Date) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDate(s sql.NullString) (*models.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := models.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
