package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-gateway/internal/amount"
)

// PostgresStore is the production Store backing. It keeps two tables,
// "<prefix>transactions" and "<prefix>transaction_logs", and implements the
// settle lock with SELECT ... FOR UPDATE on a transaction held open until the
// terminal status commits.
type PostgresStore struct {
	pool   *pgxpool.Pool
	prefix string
}

// NewPostgresStore creates a PostgresStore over an existing pool. prefix is
// prepended to both table names and may be empty.
func NewPostgresStore(pool *pgxpool.Pool, prefix string) *PostgresStore {
	return &PostgresStore{pool: pool, prefix: prefix}
}

// Migrate creates the two tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]stransactions (
			id            TEXT PRIMARY KEY,
			provider      TEXT NOT NULL,
			total         NUMERIC(20,2) NOT NULL,
			currency      TEXT NOT NULL,
			order_id      TEXT NOT NULL UNIQUE,
			token         TEXT NOT NULL DEFAULT '',
			reference_id  TEXT NOT NULL DEFAULT '',
			trace_number  TEXT NOT NULL DEFAULT '',
			rrn           TEXT NOT NULL DEFAULT '',
			card_number   TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			extra         JSONB NOT NULL DEFAULT '{}',
			client_ip     TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL,
			paid_at       TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS %[1]stransaction_logs (
			id             BIGSERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL REFERENCES %[1]stransactions(id),
			code           TEXT NOT NULL,
			message        TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]stransaction_logs_tx_idx
			ON %[1]stransaction_logs (transaction_id);`, s.prefix))
	return err
}

func (s *PostgresStore) table() string     { return s.prefix + "transactions" }
func (s *PostgresStore) logsTable() string { return s.prefix + "transaction_logs" }

func (s *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	extra, err := json.Marshal(tx.Extra)
	if err != nil {
		return fmt.Errorf("record: marshal extra: %w", err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, provider, total, currency, order_id, token, reference_id,
		                trace_number, rrn, card_number, status, extra, client_ip, created_at, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`, s.table()),
		tx.ID, tx.Provider, tx.Amount.Total().String(), tx.Amount.Currency(), tx.OrderID,
		tx.Token, tx.ReferenceID, tx.TraceNumber, tx.RRN, tx.CardNumber,
		string(tx.Status), extra, tx.ClientIP, tx.CreatedAt, tx.PaidAt)
	if err != nil {
		return fmt.Errorf("record: insert transaction: %w", err)
	}
	for _, entry := range tx.Log {
		if err := s.appendLog(ctx, s.pool, tx.ID, entry); err != nil {
			return err
		}
	}
	return nil
}

// execer abstracts the pool and an open pgx.Tx for shared statements.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) appendLog(ctx context.Context, q execer, id string, entry LogEntry) error {
	_, err := q.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (transaction_id, code, message, created_at) VALUES ($1,$2,$3,$4)`, s.logsTable()),
		id, entry.Code, entry.Message, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("record: append log: %w", err)
	}
	return nil
}

const txColumns = `id, provider, total::text, currency, order_id, token, reference_id,
	trace_number, rrn, card_number, status, extra, client_ip, created_at, paid_at`

func (s *PostgresStore) scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		tx       Transaction
		total    string
		currency string
		status   string
		extra    []byte
	)
	err := row.Scan(&tx.ID, &tx.Provider, &total, &currency, &tx.OrderID, &tx.Token,
		&tx.ReferenceID, &tx.TraceNumber, &tx.RRN, &tx.CardNumber, &status,
		&extra, &tx.ClientIP, &tx.CreatedAt, &tx.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record: scan transaction: %w", err)
	}
	dec, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("record: stored total invalid: %w", err)
	}
	amt, err := amount.New(dec, currency)
	if err != nil {
		return nil, fmt.Errorf("record: stored amount invalid: %w", err)
	}
	tx.Amount = amt
	tx.Status = Status(status)
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &tx.Extra); err != nil {
			return nil, fmt.Errorf("record: unmarshal extra: %w", err)
		}
	}
	return &tx, nil
}

func (s *PostgresStore) loadLogs(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT code, message, created_at FROM %s WHERE transaction_id = $1 ORDER BY id`, s.logsTable()), id)
	if err != nil {
		return nil, fmt.Errorf("record: load logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Code, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("record: scan log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Find(ctx context.Context, id string) (*Transaction, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1`, txColumns, s.table()), id)
	tx, err := s.scanTransaction(row)
	if err != nil {
		return nil, err
	}
	if tx.Log, err = s.loadLogs(ctx, id); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *PostgresStore) FindForUpdate(ctx context.Context, id string) (Locked, error) {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("record: begin: %w", err)
	}
	row := dbtx.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, txColumns, s.table()), id)
	tx, err := s.scanTransaction(row)
	if err != nil {
		_ = dbtx.Rollback(ctx)
		return nil, err
	}
	return &postgresLocked{store: s, dbtx: dbtx, tx: tx}, nil
}

func (s *PostgresStore) UpdateReference(ctx context.Context, id, referenceID, token string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET reference_id = $2, token = $3 WHERE id = $1`, s.table()),
		id, referenceID, token)
	if err != nil {
		return fmt.Errorf("record: update reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, entry LogEntry) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = $2 WHERE id = $1`, s.table()),
		id, string(StatusFailed))
	if err != nil {
		return fmt.Errorf("record: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return s.appendLog(ctx, s.pool, id, entry)
}

func (s *PostgresStore) HasTraceNumber(ctx context.Context, traceNumber string) (bool, error) {
	if traceNumber == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE trace_number = $1)`, s.table()), traceNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("record: trace number lookup: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Transaction, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s ORDER BY id`, txColumns, s.table()))
	if err != nil {
		return nil, fmt.Errorf("record: list: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx, err := s.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// postgresLocked holds the row lock on an open pgx transaction.
type postgresLocked struct {
	store *PostgresStore
	dbtx  pgx.Tx
	tx    *Transaction
	done  bool
}

func (l *postgresLocked) Transaction() *Transaction { return l.tx }

func (l *postgresLocked) MarkSucceeded(ctx context.Context, settle Settlement, entry LogEntry) error {
	if l.done {
		return fmt.Errorf("record: lock already released")
	}
	_, err := l.dbtx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $2, trace_number = $3, card_number = $4, rrn = $5, paid_at = $6
		WHERE id = $1`, l.store.table()),
		l.tx.ID, string(StatusSucceeded), settle.TraceNumber, settle.CardNumber, settle.RRN, settle.PaidAt)
	if err != nil {
		_ = l.dbtx.Rollback(ctx)
		l.done = true
		return fmt.Errorf("record: mark succeeded: %w", err)
	}
	if err := l.insertLog(ctx, entry); err != nil {
		return err
	}
	return l.commit(ctx)
}

func (l *postgresLocked) MarkFailed(ctx context.Context, entry LogEntry) error {
	if l.done {
		return fmt.Errorf("record: lock already released")
	}
	_, err := l.dbtx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = $2 WHERE id = $1`, l.store.table()),
		l.tx.ID, string(StatusFailed))
	if err != nil {
		_ = l.dbtx.Rollback(ctx)
		l.done = true
		return fmt.Errorf("record: mark failed: %w", err)
	}
	if err := l.insertLog(ctx, entry); err != nil {
		return err
	}
	return l.commit(ctx)
}

func (l *postgresLocked) Release(ctx context.Context) error {
	if l.done {
		return nil
	}
	l.done = true
	return l.dbtx.Rollback(ctx)
}

func (l *postgresLocked) insertLog(ctx context.Context, entry LogEntry) error {
	_, err := l.dbtx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (transaction_id, code, message, created_at) VALUES ($1,$2,$3,$4)`, l.store.logsTable()),
		l.tx.ID, entry.Code, entry.Message, entry.Timestamp)
	if err != nil {
		_ = l.dbtx.Rollback(ctx)
		l.done = true
		return fmt.Errorf("record: append log: %w", err)
	}
	return nil
}

func (l *postgresLocked) commit(ctx context.Context) error {
	l.done = true
	if err := l.dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("record: commit: %w", err)
	}
	return nil
}
