// Package learning implements the periodic maintenance batch job over
// the learning index: decay, deactivation, supersession, and pruning.
package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gao-dev/gaodev/internal/lockfile"
	"github.com/gao-dev/gaodev/internal/store"
)

// Report is the outcome of one maintenance run.
type Report struct {
	DecayUpdates        int
	Deactivated         int
	Superseded          int
	PrunedApplications  int
	ExecutionTimeMS     int64
	Timestamp           string
}

// Job runs the four-stage maintenance batch over a Store's learning
// tables.
type Job struct {
	st  *store.Store
	log *zap.Logger
}

// New builds a Job over an already-open Store.
func New(st *store.Store, log *zap.Logger) *Job {
	if log == nil {
		log = zap.NewNop()
	}
	return &Job{st: st, log: log}
}

// supersessionCandidate is a minimal read shape used by stage 3.
type supersessionCandidate struct {
	ID         string
	Category   string
	Confidence float64
	IndexedAt  string
}

// Run executes the four stages. In dry-run mode no writes occur and the
// counts returned are estimates; Stage 3's dry-run count is explicitly
// approximate (~10% of same-category groups of size > 1), matching the
// documented estimate contract. A live run takes an exclusive lock file
// beside the database (<db>.learning.lock), held across processes, so
// two maintenance passes never interleave their mutating transaction.
func (j *Job) Run(ctx context.Context, dryRun bool) (Report, error) {
	start := time.Now()
	db := j.st.DB()

	if !dryRun {
		if path := j.st.Path(); path != "" {
			guard, err := lockfile.Acquire(path + ".learning.lock")
			if err != nil {
				return Report{}, fmt.Errorf("learning: %w", err)
			}
			defer func() { _ = guard.Release() }()
		}
	}

	var report Report
	var err error
	if dryRun {
		report, err = j.runDryRun(ctx, db)
	} else {
		report, err = j.runLive(ctx, db)
	}
	if err != nil {
		return Report{}, err
	}

	report.ExecutionTimeMS = time.Since(start).Milliseconds()
	report.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return report, nil
}

func (j *Job) runLive(ctx context.Context, db *sql.DB) (Report, error) {
	var report Report

	candidates, err := fetchSupersessionCandidates(ctx, db)
	if err != nil {
		return Report{}, fmt.Errorf("learning: fetch supersession candidates: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("learning: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	decayCount, err := decayStage(ctx, tx)
	if err != nil {
		return Report{}, fmt.Errorf("learning: decay stage: %w", err)
	}
	report.DecayUpdates = decayCount

	deactivated, err := deactivationStage(ctx, tx)
	if err != nil {
		return Report{}, fmt.Errorf("learning: deactivation stage: %w", err)
	}
	report.Deactivated = deactivated

	superseded, err := supersessionStage(ctx, tx, candidates)
	if err != nil {
		return Report{}, fmt.Errorf("learning: supersession stage: %w", err)
	}
	report.Superseded = superseded

	pruned, err := pruneStage(ctx, tx)
	if err != nil {
		return Report{}, fmt.Errorf("learning: prune stage: %w", err)
	}
	report.PrunedApplications = pruned

	if err := tx.Commit(); err != nil {
		return Report{}, fmt.Errorf("learning: commit: %w", err)
	}
	return report, nil
}

func (j *Job) runDryRun(ctx context.Context, db *sql.DB) (Report, error) {
	var report Report

	var active int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM learnings WHERE status = 'active'`).Scan(&active); err != nil {
		return Report{}, err
	}
	report.DecayUpdates = active

	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM learnings
		WHERE status = 'active' AND confidence_score < 0.2 AND success_rate < 0.3 AND application_count >= 5
	`).Scan(&report.Deactivated); err != nil {
		return Report{}, err
	}

	estimate, err := estimateSupersessions(ctx, db)
	if err != nil {
		return Report{}, err
	}
	report.Superseded = estimate

	cutoff := time.Now().AddDate(-1, 0, 0).UTC().Format("2006-01-02 15:04:05")
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM learning_applications WHERE applied_at < ?`, cutoff).Scan(&report.PrunedApplications); err != nil {
		return Report{}, err
	}

	return report, nil
}

// decayStage sets decay_factor = 0.5 + 0.5*exp(-days/180), floored at
// 0.5, for every active learning.
func decayStage(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, indexed_at FROM learnings WHERE status = 'active'`)
	if err != nil {
		return 0, err
	}
	type row struct{ id, indexedAt string }
	var batch []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.indexedAt); err != nil {
			_ = rows.Close()
			return 0, err
		}
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	_ = rows.Close()

	now := time.Now().UTC()
	count := 0
	for _, r := range batch {
		days := daysSince(r.indexedAt, now)
		factor := DecayFactor(days)
		if _, err := tx.ExecContext(ctx, `UPDATE learnings SET decay_factor = ? WHERE id = ?`, factor, r.id); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// DecayFactor computes the smooth exponential decay for a learning aged
// days since it was indexed, floored at 0.5.
func DecayFactor(days float64) float64 {
	f := 0.5 + 0.5*math.Exp(-days/180)
	if f < 0.5 {
		return 0.5
	}
	return f
}

func daysSince(indexedAt string, now time.Time) float64 {
	t, err := time.Parse(time.RFC3339, indexedAt)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", indexedAt)
		if err != nil {
			return 0
		}
	}
	return now.Sub(t).Hours() / 24
}

func deactivationStage(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM learnings
		WHERE status = 'active' AND confidence_score < 0.2 AND success_rate < 0.3 AND application_count >= 5
	`)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	_ = rows.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range ids {
		meta, err := readMetadata(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		meta["deactivated_reason"] = "confidence and success rate below threshold after sufficient applications"
		meta["deactivated_at"] = now
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE learnings SET status = 'inactive', metadata = ? WHERE id = ?`, string(metaJSON), id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func readMetadata(ctx context.Context, tx *sql.Tx, id string) (map[string]any, error) {
	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT metadata FROM learnings WHERE id = ?`, id).Scan(&raw); err != nil {
		return nil, err
	}
	meta := map[string]any{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &meta)
	}
	return meta, nil
}

func fetchSupersessionCandidates(ctx context.Context, db *sql.DB) (map[string][]supersessionCandidate, error) {
	categories, err := distinctActiveCategories(ctx, db)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]supersessionCandidate, len(categories))

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]supersessionCandidate, len(categories))
	for i, cat := range categories {
		i, cat := i, cat
		g.Go(func() error {
			rows, err := db.QueryContext(gctx, `
				SELECT id, category, confidence_score, indexed_at FROM learnings
				WHERE status = 'active' AND category = ?
				ORDER BY indexed_at DESC, rowid DESC
			`, cat)
			if err != nil {
				return err
			}
			defer func() { _ = rows.Close() }()
			var cands []supersessionCandidate
			for rows.Next() {
				var c supersessionCandidate
				if err := rows.Scan(&c.ID, &c.Category, &c.Confidence, &c.IndexedAt); err != nil {
					return err
				}
				cands = append(cands, c)
			}
			results[i] = cands
			return rows.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, cat := range categories {
		out[cat] = results[i]
	}
	return out, nil
}

func distinctActiveCategories(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT category FROM learnings WHERE status = 'active'`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// supersessionStage marks older as superseded by newer whenever
// newer.confidence - older.confidence > 0.2, within each category.
func supersessionStage(ctx context.Context, tx *sql.Tx, candidates map[string][]supersessionCandidate) (int, error) {
	count := 0
	for _, cands := range candidates {
		for i, newer := range cands {
			for j := i + 1; j < len(cands); j++ {
				older := cands[j]
				if newer.Confidence-older.Confidence > 0.2 {
					res, err := tx.ExecContext(ctx,
						`UPDATE learnings SET superseded_by = ?, status = 'superseded'
						 WHERE id = ? AND status = 'active'`, newer.ID, older.ID)
					if err != nil {
						return count, err
					}
					if n, _ := res.RowsAffected(); n > 0 {
						count++
					}
				}
			}
		}
	}
	return count, nil
}

// estimateSupersessions approximates stage 3's dry-run count as ~10% of
// same-category groups with more than one active member. This is an
// explicit estimate, not a prediction of the live stage's exact output.
func estimateSupersessions(ctx context.Context, db *sql.DB) (int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM learnings WHERE status = 'active' GROUP BY category HAVING COUNT(*) > 1
	`)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	groups := 0
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return 0, err
		}
		groups++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return int(math.Round(float64(groups) * 0.10)), nil
}

func pruneStage(ctx context.Context, tx *sql.Tx) (int, error) {
	cutoff := time.Now().AddDate(-1, 0, 0).UTC().Format("2006-01-02 15:04:05")
	res, err := tx.ExecContext(ctx, `DELETE FROM learning_applications WHERE applied_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
