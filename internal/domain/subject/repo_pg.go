package subject

import (
	"context"

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

const subjectCols = `id, study_id, center_code, patient_code, sex, birth_year,
	enrollment_date, baseline_date, baseline_scr, baseline_scr_unit, baseline_upcr,
	note, invalidated_at, created_at, updated_at`

func scanSubject(row pgx.Row) (*Subject, error) {
	var s Subject
	err := row.Scan(&s.ID, &s.StudyID, &s.CenterCode, &s.PatientCode, &s.Sex, &s.BirthYear,
		&s.EnrollmentDate, &s.BaselineDate, &s.BaselineScr, &s.BaselineScrUnit, &s.BaselineUPCR,
		&s.Note, &s.InvalidatedAt, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *repoPG) Create(ctx context.Context, s *Subject) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO subject (id, study_id, center_code, patient_code, sex, birth_year,
			enrollment_date, baseline_date, baseline_scr, baseline_scr_unit, baseline_upcr, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		s.ID, s.StudyID, s.CenterCode, s.PatientCode, s.Sex, s.BirthYear,
		s.EnrollmentDate, s.BaselineDate, s.BaselineScr, s.BaselineScrUnit, s.BaselineUPCR, s.Note)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Subject, error) {
	return scanSubject(r.conn(ctx).QueryRow(ctx, `SELECT `+subjectCols+` FROM subject WHERE id = $1`, id))
}

func (r *repoPG) GetByCode(ctx context.Context, studyID uuid.UUID, centerCode, patientCode string) (*Subject, error) {
	return scanSubject(r.conn(ctx).QueryRow(ctx, `
		SELECT `+subjectCols+` FROM subject
		WHERE study_id = $1 AND center_code = $2 AND patient_code = $3`,
		studyID, centerCode, patientCode))
}

func (r *repoPG) Update(ctx context.Context, s *Subject) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE subject SET sex = $2, birth_year = $3, enrollment_date = $4, baseline_date = $5,
			baseline_scr = $6, baseline_scr_unit = $7, baseline_upcr = $8, note = $9, updated_at = NOW()
		WHERE id = $1`,
		s.ID, s.Sex, s.BirthYear, s.EnrollmentDate, s.BaselineDate,
		s.BaselineScr, s.BaselineScrUnit, s.BaselineUPCR, s.Note)
	return err
}

func (r *repoPG) Invalidate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE subject SET invalidated_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND invalidated_at IS NULL`, id)
	return err
}

func (r *repoPG) ListByStudy(ctx context.Context, studyID uuid.UUID, limit, offset int) ([]*Subject, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM subject WHERE study_id = $1`, studyID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+subjectCols+` FROM subject WHERE study_id = $1
		ORDER BY center_code, patient_code LIMIT $2 OFFSET $3`, studyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// Lock blocks until this transaction holds the subject row. Outside a
// transaction the lock would be released immediately, so this is only
// meaningful under db.InTx.
func (r *repoPG) Lock(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	return r.conn(ctx).QueryRow(ctx, `SELECT id FROM subject WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
}
