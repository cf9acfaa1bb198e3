package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jdtrading/mt5-copier/internal/ledger"
	"github.com/jdtrading/mt5-copier/pkg/types"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStorage creates a new PostgreSQL storage.
func NewPostgresStorage(cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// RecordEvent archives a normalized trade event.
func (p *PostgresStorage) RecordEvent(ctx context.Context, event types.TradeEvent) error {
	query := `
		INSERT INTO trade_events (
			kind, account_id, source_ticket, symbol, side, volume,
			open_price, stop_loss, take_profit, sequence, synthetic,
			reason, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := p.db.ExecContext(ctx, query,
		event.Kind.String(),
		event.AccountID,
		event.SourceTicket,
		event.Symbol,
		string(event.Side),
		event.Volume,
		event.OpenPrice,
		event.StopLoss,
		event.TakeProfit,
		event.Sequence,
		event.Synthetic,
		event.Reason,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert trade event: %w", err)
	}

	return nil
}

// RecordMapping archives a copy mapping snapshot.
func (p *PostgresStorage) RecordMapping(ctx context.Context, m ledger.Mapping) error {
	query := `
		INSERT INTO copy_mappings (
			correlation_id, master_ticket, copier_account_id, copier_ticket,
			symbol, side, master_volume, scaled_volume, state, attempts,
			last_error, created_at, updated_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (correlation_id) DO UPDATE SET
			copier_ticket = EXCLUDED.copier_ticket,
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at,
			closed_at = EXCLUDED.closed_at
	`

	var closedAt sql.NullTime
	if !m.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: m.ClosedAt, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, query,
		m.CorrelationID,
		m.MasterTicket,
		m.CopierAccountID,
		m.CopierTicket,
		m.Symbol,
		m.Side,
		m.MasterVolume,
		m.ScaledVolume,
		m.State.String(),
		m.Attempts,
		m.LastError,
		m.CreatedAt,
		m.UpdatedAt,
		closedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert copy mapping: %w", err)
	}

	return nil
}

// RecordLog archives a dashboard activity entry.
func (p *PostgresStorage) RecordLog(ctx context.Context, source string, entry types.LogEntry) error {
	query := `
		INSERT INTO activity_log (source, level, message, logged_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := p.db.ExecContext(ctx, query, source, entry.Level, entry.Message, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert activity entry: %w", err)
	}

	return nil
}

// RecentActivity returns the newest activity entries for a source.
func (p *PostgresStorage) RecentActivity(ctx context.Context, source string, limit int) ([]types.LogEntry, error) {
	query := `
		SELECT logged_at, level, message
		FROM activity_log
		WHERE source = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := p.db.QueryContext(ctx, query, source, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make([]types.LogEntry, 0, limit)
	for rows.Next() {
		var entry types.LogEntry
		err = rows.Scan(&entry.Timestamp, &entry.Level, &entry.Message)
		if err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}

	return entries, nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}
