package history

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/xerrors"
	_ "modernc.org/sqlite"

	"shipnet/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at INTEGER NOT NULL,
	epochs INTEGER NOT NULL,
	device TEXT NOT NULL,
	finished_at INTEGER,
	best_accuracy REAL,
	best_epoch INTEGER,
	elapsed_ms INTEGER
);
CREATE TABLE IF NOT EXISTS phases(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	epoch INTEGER NOT NULL,
	phase TEXT NOT NULL,
	loss REAL NOT NULL,
	accuracy REAL NOT NULL,
	samples INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	images_per_sec REAL NOT NULL,
	improved INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS phases_run ON phases(run_id, epoch);
`

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Errorf("history: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, xerrors.Errorf("history: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, xerrors.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunInfo describes a run at start.
type RunInfo struct {
	Epochs    int
	Device    string
	StartedAt time.Time
}

// Run records the phases of one training run.
type Run struct {
	ID    int64
	store *Store
}

// StartRun inserts a new run row.
func (s *Store) StartRun(ctx context.Context, info RunInfo) (*Run, error) {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO runs(started_at, epochs, device) VALUES(?,?,?)",
		info.StartedAt.UnixMilli(), info.Epochs, info.Device)
	if err != nil {
		return nil, xerrors.Errorf("history: start run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, xerrors.Errorf("history: run id: %w", err)
	}
	return &Run{ID: id, store: s}, nil
}

// RecordPhase stores one phase result.
func (r *Run) RecordPhase(ctx context.Context, p metrics.PhaseResult) error {
	improved := 0
	if p.Improved {
		improved = 1
	}
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO phases(run_id, epoch, phase, loss, accuracy, samples, duration_ms, images_per_sec, improved)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, p.Epoch, p.Phase, p.Loss, p.Accuracy, p.Samples, p.Duration.Milliseconds(), p.ImagesPerSec, improved)
	if err != nil {
		return xerrors.Errorf("history: record phase: %w", err)
	}
	return nil
}

// Finish stores the run summary.
func (r *Run) Finish(ctx context.Context, s metrics.Summary) error {
	_, err := r.store.db.ExecContext(ctx,
		"UPDATE runs SET finished_at=?, best_accuracy=?, best_epoch=?, elapsed_ms=? WHERE id=?",
		time.Now().UnixMilli(), s.BestAccuracy, s.BestEpoch, s.Elapsed.Milliseconds(), r.ID)
	if err != nil {
		return xerrors.Errorf("history: finish run: %w", err)
	}
	return nil
}

// ValHistory returns the validation accuracies of a run in epoch order.
func (s *Store) ValHistory(ctx context.Context, runID int64) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT accuracy FROM phases WHERE run_id=? AND phase='val' ORDER BY epoch ASC, id ASC", runID)
	if err != nil {
		return nil, xerrors.Errorf("history: query: %w", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var acc float64
		if err := rows.Scan(&acc); err != nil {
			return nil, xerrors.Errorf("history: scan: %w", err)
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// Best returns the stored best accuracy and epoch of a finished run.
func (s *Store) Best(ctx context.Context, runID int64) (accuracy float64, epoch int, err error) {
	var acc sql.NullFloat64
	var ep sql.NullInt64
	err = s.db.QueryRowContext(ctx, "SELECT best_accuracy, best_epoch FROM runs WHERE id=?", runID).Scan(&acc, &ep)
	if err != nil {
		return 0, 0, xerrors.Errorf("history: best: %w", err)
	}
	if !acc.Valid {
		return 0, 0, xerrors.Errorf("history: run %d not finished", runID)
	}
	return acc.Float64, int(ep.Int64), nil
}
