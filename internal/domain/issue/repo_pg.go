package issue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kidneysphere/registry/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const issueCols = `id, study_id, subject_id, record_type, record_id, rule_code,
	severity, status, message, resolution_note, resolved_at, created_at, updated_at`

func scanIssue(row pgx.Row) (*Issue, error) {
	var i Issue
	err := row.Scan(&i.ID, &i.StudyID, &i.SubjectID, &i.RecordType, &i.RecordID, &i.RuleCode,
		&i.Severity, &i.Status, &i.Message, &i.ResolutionNote, &i.ResolvedAt, &i.CreatedAt, &i.UpdatedAt)
	return &i, err
}

// RaiseOrUpdate relies on the partial unique index over non-terminal rows
// (see migrations): the ON CONFLICT target matches the index predicate, so
// re-raising an open problem updates it in place instead of duplicating it,
// even under concurrent writers.
func (r *repoPG) RaiseOrUpdate(ctx context.Context, iss *Issue) error {
	if iss.ID == uuid.Nil {
		iss.ID = uuid.New()
	}
	if iss.Status == "" {
		iss.Status = StatusOpen
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO issue (id, study_id, subject_id, record_type, record_id, rule_code, severity, status, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (study_id, subject_id, record_type, record_id, rule_code)
			WHERE status IN ('open', 'in_progress')
		DO UPDATE SET severity = EXCLUDED.severity,
			message = EXCLUDED.message,
			updated_at = NOW()`,
		iss.ID, iss.StudyID, iss.SubjectID, iss.RecordType, iss.RecordID, iss.RuleCode,
		iss.Severity, iss.Status, iss.Message)
	return err
}

func (r *repoPG) FindOpen(ctx context.Context, key DedupKey) (*Issue, error) {
	iss, err := scanIssue(r.conn(ctx).QueryRow(ctx, `
		SELECT `+issueCols+` FROM issue
		WHERE study_id = $1 AND subject_id = $2 AND record_type = $3 AND record_id = $4
			AND rule_code = $5 AND status IN ('open', 'in_progress')`,
		key.StudyID, key.SubjectID, key.RecordType, key.RecordID, key.RuleCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return iss, nil
}

func (r *repoPG) Resolve(ctx context.Context, key DedupKey, note string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE issue SET status = 'resolved', resolution_note = $6, resolved_at = NOW(), updated_at = NOW()
		WHERE study_id = $1 AND subject_id = $2 AND record_type = $3 AND record_id = $4
			AND rule_code = $5 AND status IN ('open', 'in_progress')`,
		key.StudyID, key.SubjectID, key.RecordType, key.RecordID, key.RuleCode, note)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Issue, error) {
	return scanIssue(r.conn(ctx).QueryRow(ctx, `SELECT `+issueCols+` FROM issue WHERE id = $1`, id))
}

func (r *repoPG) UpdateStatus(ctx context.Context, iss *Issue) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE issue SET status = $2, resolution_note = $3, resolved_at = $4, updated_at = NOW()
		WHERE id = $1`,
		iss.ID, iss.Status, iss.ResolutionNote, iss.ResolvedAt)
	return err
}

func (r *repoPG) ListBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Issue, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM issue WHERE subject_id = $1`, subjectID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+issueCols+` FROM issue WHERE subject_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, subjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collect(rows, total)
}

func (r *repoPG) ListByStudy(ctx context.Context, studyID uuid.UUID, status string, limit, offset int) ([]*Issue, int, error) {
	var total int
	var rows pgx.Rows
	var err error
	if status == "" {
		if err = r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM issue WHERE study_id = $1`, studyID).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = r.conn(ctx).Query(ctx, `
			SELECT `+issueCols+` FROM issue WHERE study_id = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3`, studyID, limit, offset)
	} else {
		if err = r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM issue WHERE study_id = $1 AND status = $2`, studyID, status).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = r.conn(ctx).Query(ctx, `
			SELECT `+issueCols+` FROM issue WHERE study_id = $1 AND status = $2
			ORDER BY created_at DESC LIMIT $3 OFFSET $4`, studyID, status, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collect(rows, total)
}

func collect(rows pgx.Rows, total int) ([]*Issue, int, error) {
	var items []*Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CountOpenBySeverity(ctx context.Context, studyID uuid.UUID) ([]SeverityCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT severity, COUNT(*) FROM issue
		WHERE study_id = $1 AND status IN ('open', 'in_progress')
		GROUP BY severity ORDER BY severity`, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []SeverityCount
	for rows.Next() {
		var c SeverityCount
		if err := rows.Scan(&c.Severity, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (r *repoPG) CountTotals(ctx context.Context, studyID uuid.UUID) (int, int, error) {
	var raised, closed int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('resolved', 'wont_fix'))
		FROM issue WHERE study_id = $1`, studyID).Scan(&raised, &closed)
	return raised, closed, err
}

func (r *repoPG) MissingCoreRate(ctx context.Context, studyID uuid.UUID, ruleCode string) (float64, error) {
	var rate float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT COUNT(DISTINCT record_id) FROM issue
				WHERE study_id = $1 AND rule_code = $2 AND status IN ('open', 'in_progress'))::float
			/ NULLIF((SELECT COUNT(*) FROM lab_result
				WHERE study_id = $1 AND invalidated_at IS NULL), 0),
			0)`, studyID, ruleCode).Scan(&rate)
	return rate, err
}
