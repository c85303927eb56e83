package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/mule-engine/pkg/models"
	"go.uber.org/zap"
)

// schemaSQL is compiled into the binary at build time so schema init works
// from the runtime image without the source tree.
//
//go:embed schema.sql
var schemaSQL string

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(ctx context.Context, connStr string, maxConns int32, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	logger.Info("connected to PostgreSQL", zap.Int32("max_conns", cfg.MaxConns))
	return &PostgresStore{pool: pool, logger: logger.Named("db")}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	s.logger.Info("analysis session schema initialized")
	return nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSession persists one analysis run with its accounts and rings and
// returns the new session id.
func (s *PostgresStore) SaveSession(ctx context.Context, filename string, result *models.AnalysisResult) (string, error) {
	summary, err := json.Marshal(result.Summary)
	if err != nil {
		return "", fmt.Errorf("encoding summary: %w", err)
	}
	id := uuid.New()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO analysis_sessions
		(id, filename, total_accounts, suspicious_count, rings_detected, processing_time, raw_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, filename,
		result.Summary.TotalAccountsAnalyzed,
		result.Summary.SuspiciousAccountsFlagged,
		result.Summary.FraudRingsDetected,
		float64(result.Summary.ProcessingTimeSeconds),
		summary,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert analysis session: %w", err)
	}

	for pos, acct := range result.SuspiciousAccounts {
		var rowID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO suspicious_accounts (session_id, position, account_id, suspicion_score, ring_id)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			id, pos, acct.AccountID, float64(acct.SuspicionScore), acct.RingID,
		).Scan(&rowID)
		if err != nil {
			return "", fmt.Errorf("failed to insert suspicious account %s: %w", acct.AccountID, err)
		}

		batch := &pgx.Batch{}
		for i, p := range acct.DetectedPatterns {
			batch.Queue(`INSERT INTO detected_patterns (suspicious_account_id, position, pattern_name) VALUES ($1, $2, $3)`, rowID, i, p)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return "", fmt.Errorf("failed to insert patterns for %s: %w", acct.AccountID, err)
		}
	}

	for _, ring := range result.FraudRings {
		var rowID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO fraud_rings (session_id, ring_id, pattern_type, risk_score, member_count)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			id, ring.RingID, ring.PatternType, float64(ring.RiskScore), len(ring.MemberAccounts),
		).Scan(&rowID)
		if err != nil {
			return "", fmt.Errorf("failed to insert fraud ring %s: %w", ring.RingID, err)
		}

		batch := &pgx.Batch{}
		for i, member := range ring.MemberAccounts {
			batch.Queue(`INSERT INTO ring_members (fraud_ring_id, position, account_id) VALUES ($1, $2, $3)`, rowID, i, member)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return "", fmt.Errorf("failed to insert members of %s: %w", ring.RingID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id.String(), nil
}

// ListSessions returns the most recent sessions first.
func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, total_accounts, suspicious_count, rings_detected, processing_time, created_at
		FROM analysis_sessions
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.SessionSummary, 0)
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// GetSession loads a session with its accounts and rings in their original
// order.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.SessionDetail, error) {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, filename, total_accounts, suspicious_count, rings_detected, processing_time, created_at
		FROM analysis_sessions WHERE id = $1`, sessionID)
	sum, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	detail := &models.SessionDetail{
		SessionSummary:     sum,
		SuspiciousAccounts: make([]models.SuspiciousAccount, 0),
		FraudRings:         make([]models.FraudRing, 0),
	}

	acctRows, err := s.pool.Query(ctx, `
		SELECT sa.account_id, sa.suspicion_score, sa.ring_id,
		       COALESCE(array_agg(dp.pattern_name ORDER BY dp.position) FILTER (WHERE dp.id IS NOT NULL), '{}')
		FROM suspicious_accounts sa
		LEFT JOIN detected_patterns dp ON dp.suspicious_account_id = sa.id
		WHERE sa.session_id = $1
		GROUP BY sa.id
		ORDER BY sa.position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer acctRows.Close()
	for acctRows.Next() {
		var a models.SuspiciousAccount
		var score float64
		if err := acctRows.Scan(&a.AccountID, &score, &a.RingID, &a.DetectedPatterns); err != nil {
			return nil, err
		}
		a.SuspicionScore = models.Score(score)
		detail.SuspiciousAccounts = append(detail.SuspiciousAccounts, a)
	}
	if err := acctRows.Err(); err != nil {
		return nil, err
	}

	ringRows, err := s.pool.Query(ctx, `
		SELECT fr.ring_id, fr.pattern_type, fr.risk_score,
		       COALESCE(array_agg(rm.account_id ORDER BY rm.position) FILTER (WHERE rm.id IS NOT NULL), '{}')
		FROM fraud_rings fr
		LEFT JOIN ring_members rm ON rm.fraud_ring_id = fr.id
		WHERE fr.session_id = $1
		GROUP BY fr.id
		ORDER BY fr.ring_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer ringRows.Close()
	for ringRows.Next() {
		var r models.FraudRing
		var risk float64
		if err := ringRows.Scan(&r.RingID, &r.PatternType, &risk, &r.MemberAccounts); err != nil {
			return nil, err
		}
		r.RiskScore = models.Score(risk)
		detail.FraudRings = append(detail.FraudRings, r)
	}
	return detail, ringRows.Err()
}

// DeleteSession removes a session; child rows cascade.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return ErrSessionNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM analysis_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func scanSummary(row pgx.Row) (models.SessionSummary, error) {
	var (
		sum     models.SessionSummary
		id      uuid.UUID
		seconds float64
	)
	err := row.Scan(&id, &sum.Filename, &sum.TotalAccounts, &sum.SuspiciousCount, &sum.RingsDetected, &seconds, &sum.CreatedAt)
	if err != nil {
		return sum, err
	}
	sum.ID = id.String()
	sum.ProcessingTimeSeconds = models.Seconds(seconds)
	return sum, nil
}
