package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ComparisonRun is one persisted estimate of p for a model pair.
type ComparisonRun struct {
	RunID      string `json:"run_id"`
	Comparison string `json:"comparison"`
	Dataset    string `json:"dataset"`
	Estimator  string `json:"estimator"`
	Calibrator string `json:"calibrator"`
	Method     string `json:"method"`
	// Fold is the cross-validation fold, nil for a full run.
	Fold *int `json:"fold,omitempty"`

	PMean  float64 `json:"p_mean"`
	PMode  float64 `json:"p_mode"`
	PLower float64 `json:"p_lower"`
	PUpper float64 `json:"p_upper"`
	K      float64 `json:"k"`
	// TrueP, MeanError, ModeError and KError are NaN when no truth exists.
	TrueP     float64 `json:"true_p"`
	MeanError float64 `json:"mean_error"`
	ModeError float64 `json:"mode_error"`
	KError    float64 `json:"k_error"`

	ParamsJSON json.RawMessage `json:"params_json,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// ComparisonStore provides persistence for comparison runs.
type ComparisonStore struct {
	db *sql.DB
}

// NewComparisonStore creates a new ComparisonStore.
func NewComparisonStore(db *DB) *ComparisonStore {
	return &ComparisonStore{db: db.DB}
}

// nullable maps NaN to SQL NULL.
func nullable(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func fromNull(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}

// Insert persists a run. If RunID is empty, a UUID is generated.
func (s *ComparisonStore) Insert(run *ComparisonRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	var params interface{}
	if len(run.ParamsJSON) > 0 {
		params = string(run.ParamsJSON)
	}
	var fold interface{}
	if run.Fold != nil {
		fold = *run.Fold
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO comparison_runs (
				run_id, comparison, dataset, estimator, calibrator, method, fold,
				p_mean, p_mode, p_lower, p_upper, k, true_p,
				mean_error, mode_error, k_error, params_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Comparison, run.Dataset, run.Estimator, run.Calibrator, run.Method, fold,
			nullable(run.PMean), nullable(run.PMode), nullable(run.PLower), nullable(run.PUpper),
			nullable(run.K), nullable(run.TrueP),
			nullable(run.MeanError), nullable(run.ModeError), nullable(run.KError),
			params, run.CreatedAt,
		)
		return err
	})
}

const runColumns = `run_id, comparison, dataset, estimator, calibrator, method, fold,
	p_mean, p_mode, p_lower, p_upper, k, true_p,
	mean_error, mode_error, k_error, params_json, created_at`

// ListByComparison returns every run for a pair, newest first.
func (s *ComparisonStore) ListByComparison(comparison string) ([]*ComparisonRun, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+`
		FROM comparison_runs
		WHERE comparison = ?
		ORDER BY created_at DESC`, comparison)
	if err != nil {
		return nil, fmt.Errorf("query comparison runs: %w", err)
	}
	return collectRuns(rows)
}

// Recent returns the newest runs across all pairs.
func (s *ComparisonStore) Recent(limit int) ([]*ComparisonRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+runColumns+`
		FROM comparison_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	return collectRuns(rows)
}

func collectRuns(rows *sql.Rows) ([]*ComparisonRun, error) {
	defer rows.Close()
	var runs []*ComparisonRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (*ComparisonRun, error) {
	var (
		r                                  ComparisonRun
		fold                               sql.NullInt64
		mean, mode, lower, upper, k, trueP sql.NullFloat64
		meanErr, modeErr, kErr             sql.NullFloat64
		params                             sql.NullString
	)
	err := rows.Scan(
		&r.RunID, &r.Comparison, &r.Dataset, &r.Estimator, &r.Calibrator, &r.Method, &fold,
		&mean, &mode, &lower, &upper, &k, &trueP,
		&meanErr, &modeErr, &kErr, &params, &r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan comparison run: %w", err)
	}
	if fold.Valid {
		f := int(fold.Int64)
		r.Fold = &f
	}
	r.PMean, r.PMode, r.PLower, r.PUpper = fromNull(mean), fromNull(mode), fromNull(lower), fromNull(upper)
	r.K, r.TrueP = fromNull(k), fromNull(trueP)
	r.MeanError, r.ModeError, r.KError = fromNull(meanErr), fromNull(modeErr), fromNull(kErr)
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	return &r, nil
}
