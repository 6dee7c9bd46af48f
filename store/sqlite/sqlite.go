/*
Package sqlite provides the SQLite-backed implementation of point.Store.

PURPOSE:
  Durable persistence for ledgers and entries. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

TABLES:
  ledgers: one row per grant; exactly two mutable columns
           (available_amount, canceled); rows are never deleted
  entries: append-only journal, foreign key to ledgers, optional order
           reference; no UPDATE or DELETE statements exist for it

ATOMICITY:
  Apply writes one command's ledger updates, new ledgers and new entries
  inside a single SQL transaction, so a reader never observes a ledger
  balance inconsistent with its entries.

WAL MODE:
  Opened with WAL for better concurrency: multiple readers don't block,
  single writer at a time, better crash recovery.

SEE ALSO:
  - point/store.go: Interface definition
  - point/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/point-engine/point"
)

// timeLayout is the storage format for all timestamp columns. Timestamps
// are compared as strings in SQL (expires_at bounds, ORDER BY), so the
// layout must be fixed-width: RFC3339Nano strips trailing fraction zeros
// and breaks byte-wise ordering at sub-second granularity. All values are
// normalized to UTC before formatting.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements point.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ledgers (one row per earn grant)
	CREATE TABLE IF NOT EXISTS ledgers (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		earned_amount INTEGER NOT NULL,
		available_amount INTEGER NOT NULL,
		earn_type TEXT NOT NULL,
		source_ledger_id TEXT,
		expires_at TEXT NOT NULL,
		canceled BOOLEAN NOT NULL DEFAULT FALSE,
		earned_at TEXT NOT NULL,
		CHECK (available_amount >= 0),
		CHECK (available_amount <= earned_amount)
	);

	CREATE INDEX IF NOT EXISTS idx_ledgers_member
		ON ledgers(member_id);

	-- Covering index for the balance hot path
	CREATE INDEX IF NOT EXISTS idx_ledgers_member_usable
		ON ledgers(member_id, canceled, expires_at, available_amount);

	-- Entries (append-only journal)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		ledger_id TEXT NOT NULL REFERENCES ledgers(id),
		entry_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		order_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_ledger
		ON entries(ledger_id);
	CREATE INDEX IF NOT EXISTS idx_entries_order
		ON entries(order_id) WHERE order_id IS NOT NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOADS
// =============================================================================

func (s *Store) LoadMember(ctx context.Context, memberID uuid.UUID) (*point.MemberPoint, error) {
	ledgers, err := s.loadLedgers(ctx, memberID)
	if err != nil {
		return nil, err
	}
	mp := point.NewMemberPoint(memberID)
	mp.Ledgers = ledgers
	return mp, nil
}

func (s *Store) LoadMemberForOrder(ctx context.Context, memberID uuid.UUID, orderID string) (*point.MemberPoint, error) {
	mp, err := s.LoadMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT e.id, e.ledger_id, e.entry_type, e.amount, e.order_id, e.created_at
		FROM entries e
		JOIN ledgers l ON l.id = e.ledger_id
		WHERE l.member_id = ? AND e.order_id = ?
		ORDER BY e.created_at, e.id
	`
	rows, err := s.db.QueryContext(ctx, query, memberID.String(), orderID)
	if err != nil {
		return nil, fmt.Errorf("load entries for order: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		mp.Entries[e.LedgerID] = append(mp.Entries[e.LedgerID], e)
	}
	return mp, rows.Err()
}

func (s *Store) loadLedgers(ctx context.Context, memberID uuid.UUID) ([]point.Ledger, error) {
	query := `
		SELECT id, member_id, earned_amount, available_amount, earn_type,
		       source_ledger_id, expires_at, canceled, earned_at
		FROM ledgers
		WHERE member_id = ?
		ORDER BY earned_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, memberID.String())
	if err != nil {
		return nil, fmt.Errorf("load ledgers: %w", err)
	}
	defer rows.Close()

	var ledgers []point.Ledger
	for rows.Next() {
		var (
			l                    point.Ledger
			id, member, earnType string
			source               sql.NullString
			expiresAt, earnedAt  string
			earned, available    int64
		)
		if err := rows.Scan(&id, &member, &earned, &available, &earnType, &source, &expiresAt, &l.Canceled, &earnedAt); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse ledger id: %w", err)
		}
		if l.MemberID, err = uuid.Parse(member); err != nil {
			return nil, fmt.Errorf("parse member id: %w", err)
		}
		if source.Valid {
			sid, err := uuid.Parse(source.String)
			if err != nil {
				return nil, fmt.Errorf("parse source ledger id: %w", err)
			}
			l.SourceLedgerID = &sid
		}
		l.EarnedAmount = point.Amount(earned)
		l.AvailableAmount = point.Amount(available)
		l.EarnType = point.EarnType(earnType)
		if l.ExpiresAt, err = time.Parse(timeLayout, expiresAt); err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		if l.EarnedAt, err = time.Parse(timeLayout, earnedAt); err != nil {
			return nil, fmt.Errorf("parse earned_at: %w", err)
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}

// =============================================================================
// ATOMIC MUTATION
// =============================================================================

// Apply persists a mutation inside one SQL transaction.
func (s *Store) Apply(ctx context.Context, mu point.Mutation) error {
	if mu.IsEmpty() {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, l := range mu.NewLedgers {
			if err := insertLedger(ctx, tx, l); err != nil {
				return err
			}
		}
		for _, l := range mu.UpdatedLedgers {
			if err := updateLedger(ctx, tx, l); err != nil {
				return err
			}
		}
		for _, e := range mu.NewEntries {
			if err := insertEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// withTx executes fn within a transaction; rollback on error, commit on nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func insertLedger(ctx context.Context, tx *sql.Tx, l point.Ledger) error {
	var source any
	if l.SourceLedgerID != nil {
		source = l.SourceLedgerID.String()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledgers
		(id, member_id, earned_amount, available_amount, earn_type, source_ledger_id, expires_at, canceled, earned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(),
		l.MemberID.String(),
		l.EarnedAmount.Int64(),
		l.AvailableAmount.Int64(),
		string(l.EarnType),
		source,
		l.ExpiresAt.UTC().Format(timeLayout),
		l.Canceled,
		l.EarnedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert ledger %s: %w", l.ID, err)
	}
	return nil
}

// updateLedger touches only the two mutable columns.
func updateLedger(ctx context.Context, tx *sql.Tx, l point.Ledger) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE ledgers SET available_amount = ?, canceled = ? WHERE id = ?`,
		l.AvailableAmount.Int64(), l.Canceled, l.ID.String())
	if err != nil {
		return fmt.Errorf("update ledger %s: %w", l.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update ledger %s: %w", l.ID, point.ErrLedgerNotFound)
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e point.Entry) error {
	var orderID any
	if e.OrderID != "" {
		orderID = e.OrderID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, ledger_id, entry_type, amount, order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID.String(),
		e.LedgerID.String(),
		string(e.Type),
		e.Amount,
		orderID,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.ID, err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Store) SumAvailable(ctx context.Context, memberID uuid.UUID, now time.Time) (point.Amount, error) {
	var sum sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(available_amount)
		FROM ledgers
		WHERE member_id = ? AND canceled = FALSE AND expires_at >= ? AND available_amount > 0`,
		memberID.String(), now.UTC().Format(timeLayout),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum available: %w", err)
	}
	if !sum.Valid {
		return 0, nil
	}
	return point.Amount(sum.Int64), nil
}

func (s *Store) EntriesByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]point.Entry, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries e
		JOIN ledgers l ON l.id = e.ledger_id
		WHERE l.member_id = ?`, memberID.String(),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.ledger_id, e.entry_type, e.amount, e.order_id, e.created_at
		FROM entries e
		JOIN ledgers l ON l.id = e.ledger_id
		WHERE l.member_id = ?
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT ? OFFSET ?`,
		memberID.String(), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	var entries []point.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// CheckConsistency reports ledgers whose materialized available amount does
// not equal the signed sum of their journal.
//
// Known benign shape: canceling a use of an expired ledger journals the
// USE_CANCEL against the original while the amount is restored into a
// replacement ledger, so the original reports derived > stored by the
// recreated amount. Cross-check source_ledger_id before treating such a
// drift as corruption.
func (s *Store) CheckConsistency(ctx context.Context, memberID uuid.UUID) ([]point.Drift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.available_amount, COALESCE(SUM(e.amount), 0) AS derived
		FROM ledgers l
		LEFT JOIN entries e ON e.ledger_id = l.id
		WHERE l.member_id = ?
		GROUP BY l.id, l.available_amount
		HAVING l.available_amount != COALESCE(SUM(e.amount), 0)`,
		memberID.String())
	if err != nil {
		return nil, fmt.Errorf("consistency check: %w", err)
	}
	defer rows.Close()

	var drifts []point.Drift
	for rows.Next() {
		var (
			id      string
			stored  int64
			derived int64
		)
		if err := rows.Scan(&id, &stored, &derived); err != nil {
			return nil, fmt.Errorf("scan drift: %w", err)
		}
		ledgerID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse ledger id: %w", err)
		}
		drifts = append(drifts, point.Drift{LedgerID: ledgerID, Stored: point.Amount(stored), Derived: derived})
	}
	return drifts, rows.Err()
}

func scanEntry(rows *sql.Rows) (point.Entry, error) {
	var (
		e                   point.Entry
		id, ledgerID, eType string
		orderID             sql.NullString
		createdAt           string
	)
	if err := rows.Scan(&id, &ledgerID, &eType, &e.Amount, &orderID, &createdAt); err != nil {
		return point.Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return point.Entry{}, fmt.Errorf("parse entry id: %w", err)
	}
	if e.LedgerID, err = uuid.Parse(ledgerID); err != nil {
		return point.Entry{}, fmt.Errorf("parse entry ledger id: %w", err)
	}
	e.Type = point.EntryType(eType)
	e.OrderID = orderID.String
	if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return point.Entry{}, fmt.Errorf("parse entry created_at: %w", err)
	}
	return e, nil
}
