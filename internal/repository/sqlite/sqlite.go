package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"spacegraph/internal/codec"
	"spacegraph/internal/domain"
)

// Repository implements repository.TraceStore using SQLite
type Repository struct {
	db *sql.DB
}

// New opens or creates the trace database at dbPath. ":memory:" gives a
// private in-memory store.
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer, and every statement sees the same in-memory database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	db.Exec("PRAGMA busy_timeout=5000")

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trace (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		source TEXT NOT NULL,
		seq INTEGER NOT NULL,
		at_ns INTEGER NOT NULL,
		type TEXT NOT NULL,
		data BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trace_tick ON trace(tick, id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Record appends one tick's batch in a single transaction
func (r *Repository) Record(ctx context.Context, tick uint64, batch []domain.Incoming) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trace (tick, source, seq, at_ns, type, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, in := range batch {
		rec, err := codec.RecordOf(tick, in)
		if err != nil {
			return fmt.Errorf("failed to encode %s/%d: %w", in.Source, in.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx, recordInsertArgs(rec)...); err != nil {
			return fmt.Errorf("failed to insert %s/%d: %w", in.Source, in.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tick %d: %w", tick, err)
	}
	return nil
}

// Records visits every record in apply order. A non-nil error from fn
// stops the walk and is returned.
func (r *Repository) Records(ctx context.Context, fn func(codec.TraceRecord) error) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tick, source, seq, at_ns, type, data
		FROM trace
		ORDER BY tick, id
	`)
	if err != nil {
		return fmt.Errorf("failed to query trace: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row recordRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		if err := fn(row.toRecord()); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating trace: %w", err)
	}
	return nil
}

// Batches groups records by tick and decodes them
func (r *Repository) Batches(ctx context.Context, fn func(tick uint64, batch []domain.Incoming) error) error {
	var (
		cur     uint64
		batch   []domain.Incoming
		started bool
	)
	err := r.Records(ctx, func(rec codec.TraceRecord) error {
		if started && rec.Tick != cur {
			if err := fn(cur, batch); err != nil {
				return err
			}
			batch = nil
		}
		cur, started = rec.Tick, true
		in, err := rec.Incoming()
		if err != nil {
			return err
		}
		batch = append(batch, in)
		return nil
	})
	if err != nil {
		return err
	}
	if started {
		return fn(cur, batch)
	}
	return nil
}

// TraceStats summarizes the stored trace
type TraceStats struct {
	Records  int    `json:"records"`
	Ticks    int    `json:"ticks"`
	LastTick uint64 `json:"last_tick"`
}

// Stats counts stored records and ticks
func (r *Repository) Stats(ctx context.Context) (TraceStats, error) {
	var (
		st   TraceStats
		last sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT tick), MAX(tick) FROM trace
	`).Scan(&st.Records, &st.Ticks, &last)
	if err != nil {
		return TraceStats{}, fmt.Errorf("failed to count trace: %w", err)
	}
	st.LastTick = uint64(nullToInt64(last))
	return st, nil
}

// Truncate removes every record
func (r *Repository) Truncate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM trace"); err != nil {
		return fmt.Errorf("failed to truncate trace: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}
