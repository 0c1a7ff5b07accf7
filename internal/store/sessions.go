package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

// ErrNotFound is returned when a session is not in the history.
var ErrNotFound = errors.New("not found")

// Outcome values stored for a session.
const (
	OutcomeCaptured = "captured"
	OutcomeForced   = "forced"
	OutcomeFailed   = "failed"
)

// Record is one finished side-scan.
type Record struct {
	ID           string            `json:"id" yaml:"id"`
	Document     scan.DocumentType `json:"document" yaml:"document"`
	Side         scan.Side         `json:"side" yaml:"side"`
	Outcome      string            `json:"outcome" yaml:"outcome"`
	ErrorKind    apperrors.Kind    `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Forced       bool              `json:"forced" yaml:"forced"`
	Quad         string            `json:"quad,omitempty" yaml:"quad,omitempty"`
	BlurScore    float64           `json:"blur_score" yaml:"blur_score"`
	DurationMS   int64             `json:"duration_ms" yaml:"duration_ms"`
	CreatedAt    time.Time         `json:"created_at" yaml:"created_at"`
}

// FromOutcome converts a controller outcome into a history record.
func FromOutcome(o scan.Outcome) Record {
	r := Record{
		ID:         o.SessionID,
		Document:   o.Document,
		Side:       o.Side,
		DurationMS: o.Duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	switch {
	case o.Err != nil:
		r.Outcome = OutcomeFailed
		r.ErrorKind = apperrors.KindOf(o.Err)
		r.ErrorMessage = o.Err.Error()
	case o.Image != nil:
		r.Outcome = OutcomeCaptured
		if o.Image.Forced {
			r.Outcome = OutcomeForced
		}
		r.Forced = o.Image.Forced
		r.Quad = o.Image.Quad.String()
		r.BlurScore = o.Image.BlurScore
		if !o.Image.CapturedAt.IsZero() {
			r.CreatedAt = o.Image.CapturedAt.UTC()
		}
	default:
		r.Outcome = OutcomeFailed
		r.ErrorKind = apperrors.KindInternal
	}
	return r
}

// Record stores r. Recording the same ID twice replaces the earlier row.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		return errors.New("record without id")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions
		 (id, document, side, outcome, error_kind, error_message, forced, quad, blur_score, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Document), string(r.Side), r.Outcome, string(r.ErrorKind), r.ErrorMessage,
		boolToInt(r.Forced), r.Quad, r.BlurScore, r.DurationMS, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record session %s: %w", r.ID, err)
	}
	return nil
}

// RecordOutcome stores a controller outcome. Outcomes that belong to no
// session, such as cancelling an idle scan, are skipped.
func (s *Store) RecordOutcome(ctx context.Context, o scan.Outcome) error {
	if o.SessionID == "" {
		return nil
	}
	return s.Record(ctx, FromOutcome(o))
}

const selectColumns = `id, document, side, outcome, error_kind, error_message, forced, quad, blur_score, duration_ms, created_at`

// Get returns the session with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sessions WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// List returns up to limit sessions, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM sessions ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Stats summarizes the history.
type Stats struct {
	Total         int            `json:"total" yaml:"total"`
	Captured      int            `json:"captured" yaml:"captured"`
	Forced        int            `json:"forced" yaml:"forced"`
	Failed        int            `json:"failed" yaml:"failed"`
	ByErrorKind   map[string]int `json:"by_error_kind,omitempty" yaml:"by_error_kind,omitempty"`
	AvgDurationMS float64        `json:"avg_duration_ms" yaml:"avg_duration_ms"`
	AvgBlurScore  float64        `json:"avg_blur_score" yaml:"avg_blur_score"`
}

// Stats aggregates outcome counts and averages. Blur scores are averaged
// over captured sessions only.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByErrorKind: map[string]int{}}

	var avgDur, avgBlur sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(outcome = 'captured'), 0),
			COALESCE(SUM(outcome = 'forced'), 0),
			COALESCE(SUM(outcome = 'failed'), 0),
			AVG(duration_ms),
			AVG(CASE WHEN outcome != 'failed' THEN blur_score END)
		FROM sessions`).Scan(&st.Total, &st.Captured, &st.Forced, &st.Failed, &avgDur, &avgBlur)
	if err != nil {
		return Stats{}, fmt.Errorf("session stats: %w", err)
	}
	st.AvgDurationMS = avgDur.Float64
	st.AvgBlurScore = avgBlur.Float64

	rows, err := s.db.QueryContext(ctx,
		`SELECT error_kind, COUNT(*) FROM sessions WHERE error_kind != '' GROUP BY error_kind`)
	if err != nil {
		return Stats{}, fmt.Errorf("session stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return Stats{}, err
		}
		st.ByErrorKind[kind] = n
	}
	return st, rows.Err()
}

// Prune deletes sessions older than before and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r                         Record
		document, side, errorKind string
		forced                    int
	)
	err := row.Scan(&r.ID, &document, &side, &r.Outcome, &errorKind, &r.ErrorMessage,
		&forced, &r.Quad, &r.BlurScore, &r.DurationMS, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Document = scan.DocumentType(document)
	r.Side = scan.Side(side)
	r.ErrorKind = apperrors.Kind(errorKind)
	r.Forced = forced != 0
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
