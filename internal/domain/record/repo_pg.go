package record

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// -- visits --

const visitCols = `id, study_id, subject_id, visit_date,
	sbp, sbp_unit, sbp_canonical, dbp, dbp_unit, dbp_canonical,
	note, justification, created_by, invalidated_at, created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.StudyID, &v.SubjectID, &v.VisitDate,
		&v.Sbp.Value, &v.Sbp.Unit, &v.Sbp.Canonical, &v.Dbp.Value, &v.Dbp.Unit, &v.Dbp.Canonical,
		&v.Note, &v.Justification, &v.CreatedBy, &v.InvalidatedAt, &v.CreatedAt, &v.UpdatedAt)
	return &v, err
}

func (r *repoPG) CreateVisit(ctx context.Context, v *Visit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visit (id, study_id, subject_id, visit_date,
			sbp, sbp_unit, sbp_canonical, dbp, dbp_unit, dbp_canonical,
			note, justification, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		v.ID, v.StudyID, v.SubjectID, v.VisitDate,
		v.Sbp.Value, v.Sbp.Unit, v.Sbp.Canonical, v.Dbp.Value, v.Dbp.Unit, v.Dbp.Canonical,
		v.Note, v.Justification, v.CreatedBy)
	return err
}

func (r *repoPG) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
}

func (r *repoPG) UpdateVisit(ctx context.Context, v *Visit) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visit SET visit_date = $2,
			sbp = $3, sbp_unit = $4, sbp_canonical = $5,
			dbp = $6, dbp_unit = $7, dbp_canonical = $8,
			note = $9, justification = $10, updated_at = NOW()
		WHERE id = $1 AND invalidated_at IS NULL`,
		v.ID, v.VisitDate,
		v.Sbp.Value, v.Sbp.Unit, v.Sbp.Canonical,
		v.Dbp.Value, v.Dbp.Unit, v.Dbp.Canonical,
		v.Note, v.Justification)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ListVisitsBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	total, err := r.countBySubject(ctx, "visit", subjectID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+visitCols+` FROM visit
		WHERE subject_id = $1 AND invalidated_at IS NULL
		ORDER BY visit_date DESC LIMIT $2 OFFSET $3`, subjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		visits = append(visits, v)
	}
	return visits, total, rows.Err()
}

// -- lab results --

const labCols = `id, study_id, subject_id, test_date,
	scr, scr_unit, scr_canonical,
	upcr, upcr_unit, upcr_canonical,
	potassium, potassium_unit, potassium_canonical,
	hemoglobin, hemoglobin_unit, hemoglobin_canonical,
	albumin, albumin_unit, albumin_canonical,
	egfr, egfr_canonical, egfr_status, egfr_formula_version,
	note, justification, created_by, invalidated_at, created_at, updated_at`

func scanLab(row pgx.Row) (*LabResult, error) {
	var l LabResult
	err := row.Scan(&l.ID, &l.StudyID, &l.SubjectID, &l.TestDate,
		&l.Scr.Value, &l.Scr.Unit, &l.Scr.Canonical,
		&l.Upcr.Value, &l.Upcr.Unit, &l.Upcr.Canonical,
		&l.Potassium.Value, &l.Potassium.Unit, &l.Potassium.Canonical,
		&l.Hemoglobin.Value, &l.Hemoglobin.Unit, &l.Hemoglobin.Canonical,
		&l.Albumin.Value, &l.Albumin.Unit, &l.Albumin.Canonical,
		&l.EGFR.Value, &l.EGFR.Canonical, &l.EGFRStatus, &l.EGFRFormula,
		&l.Note, &l.Justification, &l.CreatedBy, &l.InvalidatedAt, &l.CreatedAt, &l.UpdatedAt)
	return &l, err
}

func (r *repoPG) CreateLab(ctx context.Context, l *LabResult) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_result (id, study_id, subject_id, test_date,
			scr, scr_unit, scr_canonical,
			upcr, upcr_unit, upcr_canonical,
			potassium, potassium_unit, potassium_canonical,
			hemoglobin, hemoglobin_unit, hemoglobin_canonical,
			albumin, albumin_unit, albumin_canonical,
			egfr, egfr_canonical, egfr_status, egfr_formula_version,
			note, justification, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,
			$20,$21,$22,$23,$24,$25,$26)`,
		l.ID, l.StudyID, l.SubjectID, l.TestDate,
		l.Scr.Value, l.Scr.Unit, l.Scr.Canonical,
		l.Upcr.Value, l.Upcr.Unit, l.Upcr.Canonical,
		l.Potassium.Value, l.Potassium.Unit, l.Potassium.Canonical,
		l.Hemoglobin.Value, l.Hemoglobin.Unit, l.Hemoglobin.Canonical,
		l.Albumin.Value, l.Albumin.Unit, l.Albumin.Canonical,
		l.EGFR.Value, l.EGFR.Canonical, l.EGFRStatus, l.EGFRFormula,
		l.Note, l.Justification, l.CreatedBy)
	return err
}

func (r *repoPG) GetLab(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return scanLab(r.conn(ctx).QueryRow(ctx, `SELECT `+labCols+` FROM lab_result WHERE id = $1`, id))
}

func (r *repoPG) UpdateLab(ctx context.Context, l *LabResult) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_result SET test_date = $2,
			scr = $3, scr_unit = $4, scr_canonical = $5,
			upcr = $6, upcr_unit = $7, upcr_canonical = $8,
			potassium = $9, potassium_unit = $10, potassium_canonical = $11,
			hemoglobin = $12, hemoglobin_unit = $13, hemoglobin_canonical = $14,
			albumin = $15, albumin_unit = $16, albumin_canonical = $17,
			egfr = $18, egfr_canonical = $19, egfr_status = $20, egfr_formula_version = $21,
			note = $22, justification = $23, updated_at = NOW()
		WHERE id = $1 AND invalidated_at IS NULL`,
		l.ID, l.TestDate,
		l.Scr.Value, l.Scr.Unit, l.Scr.Canonical,
		l.Upcr.Value, l.Upcr.Unit, l.Upcr.Canonical,
		l.Potassium.Value, l.Potassium.Unit, l.Potassium.Canonical,
		l.Hemoglobin.Value, l.Hemoglobin.Unit, l.Hemoglobin.Canonical,
		l.Albumin.Value, l.Albumin.Unit, l.Albumin.Canonical,
		l.EGFR.Value, l.EGFR.Canonical, l.EGFRStatus, l.EGFRFormula,
		l.Note, l.Justification)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ListLabsBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	total, err := r.countBySubject(ctx, "lab_result", subjectID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+labCols+` FROM lab_result
		WHERE subject_id = $1 AND invalidated_at IS NULL
		ORDER BY test_date DESC LIMIT $2 OFFSET $3`, subjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var labs []*LabResult
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, 0, err
		}
		labs = append(labs, l)
	}
	return labs, total, rows.Err()
}

// -- medications --

const medCols = `id, study_id, subject_id, drug_name, dose, dose_unit, frequency,
	start_date, end_date, note, justification, created_by, invalidated_at, created_at, updated_at`

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.StudyID, &m.SubjectID, &m.DrugName, &m.Dose, &m.DoseUnit, &m.Frequency,
		&m.StartDate, &m.EndDate, &m.Note, &m.Justification, &m.CreatedBy, &m.InvalidatedAt, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *repoPG) CreateMedication(ctx context.Context, m *Medication) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication (id, study_id, subject_id, drug_name, dose, dose_unit, frequency,
			start_date, end_date, note, justification, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ID, m.StudyID, m.SubjectID, m.DrugName, m.Dose, m.DoseUnit, m.Frequency,
		m.StartDate, m.EndDate, m.Note, m.Justification, m.CreatedBy)
	return err
}

func (r *repoPG) GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return scanMedication(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medication WHERE id = $1`, id))
}

func (r *repoPG) UpdateMedication(ctx context.Context, m *Medication) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication SET drug_name = $2, dose = $3, dose_unit = $4, frequency = $5,
			start_date = $6, end_date = $7, note = $8, justification = $9, updated_at = NOW()
		WHERE id = $1 AND invalidated_at IS NULL`,
		m.ID, m.DrugName, m.Dose, m.DoseUnit, m.Frequency,
		m.StartDate, m.EndDate, m.Note, m.Justification)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ListMedicationsBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Medication, int, error) {
	total, err := r.countBySubject(ctx, "medication", subjectID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medCols+` FROM medication
		WHERE subject_id = $1 AND invalidated_at IS NULL
		ORDER BY start_date DESC LIMIT $2 OFFSET $3`, subjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var meds []*Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, 0, err
		}
		meds = append(meds, m)
	}
	return meds, total, rows.Err()
}

// -- outcome events --

const eventCols = `id, study_id, subject_id, event_type, event_date, description,
	justification, created_by, invalidated_at, created_at, updated_at`

func scanEvent(row pgx.Row) (*OutcomeEvent, error) {
	var e OutcomeEvent
	err := row.Scan(&e.ID, &e.StudyID, &e.SubjectID, &e.EventType, &e.EventDate, &e.Description,
		&e.Justification, &e.CreatedBy, &e.InvalidatedAt, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *repoPG) CreateEvent(ctx context.Context, e *OutcomeEvent) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO outcome_event (id, study_id, subject_id, event_type, event_date, description,
			justification, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.StudyID, e.SubjectID, e.EventType, e.EventDate, e.Description,
		e.Justification, e.CreatedBy)
	return err
}

func (r *repoPG) GetEvent(ctx context.Context, id uuid.UUID) (*OutcomeEvent, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx, `SELECT `+eventCols+` FROM outcome_event WHERE id = $1`, id))
}

func (r *repoPG) UpdateEvent(ctx context.Context, e *OutcomeEvent) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE outcome_event SET event_type = $2, event_date = $3, description = $4,
			justification = $5, updated_at = NOW()
		WHERE id = $1 AND invalidated_at IS NULL`,
		e.ID, e.EventType, e.EventDate, e.Description, e.Justification)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ListEventsBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*OutcomeEvent, int, error) {
	total, err := r.countBySubject(ctx, "outcome_event", subjectID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+eventCols+` FROM outcome_event
		WHERE subject_id = $1 AND invalidated_at IS NULL
		ORDER BY event_date DESC LIMIT $2 OFFSET $3`, subjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*OutcomeEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

// -- cross-type helpers --

var tableByType = map[string]string{
	TypeVisit:      "visit",
	TypeLab:        "lab_result",
	TypeMedication: "medication",
	TypeEvent:      "outcome_event",
}

var dateColByType = map[string]string{
	TypeVisit:      "visit_date",
	TypeLab:        "test_date",
	TypeMedication: "start_date",
	TypeEvent:      "event_date",
}

func (r *repoPG) Invalidate(ctx context.Context, recordType string, id uuid.UUID) error {
	table, ok := tableByType[recordType]
	if !ok {
		return fmt.Errorf("unknown record type %q", recordType)
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE `+table+` SET invalidated_at = NOW(), updated_at = NOW() WHERE id = $1 AND invalidated_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	// The projection must not serve prior values from invalidated records.
	_, err = r.conn(ctx).Exec(ctx, `DELETE FROM measurement WHERE record_id = $1`, id)
	return err
}

func (r *repoPG) countBySubject(ctx context.Context, table string, subjectID uuid.UUID) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE subject_id = $1 AND invalidated_at IS NULL`, subjectID).Scan(&total)
	return total, err
}

func (r *repoPG) FirstVisitDate(ctx context.Context, subjectID uuid.UUID) (*time.Time, error) {
	var d *time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT MIN(visit_date) FROM visit
		WHERE subject_id = $1 AND invalidated_at IS NULL`, subjectID).Scan(&d)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *repoPG) PriorCanonical(ctx context.Context, subjectID uuid.UUID, quantity string, onOrBefore time.Time, excludeID uuid.UUID) (*float64, error) {
	var v float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT canonical_value FROM measurement
		WHERE subject_id = $1 AND quantity = $2 AND measured_at <= $3 AND record_id <> $4
		ORDER BY measured_at DESC, created_at DESC
		LIMIT 1`, subjectID, quantity, onOrBefore, excludeID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repoPG) CountSameDay(ctx context.Context, subjectID uuid.UUID, recordType string, date time.Time, excludeID uuid.UUID) (int, error) {
	table, ok := tableByType[recordType]
	if !ok {
		return 0, fmt.Errorf("unknown record type %q", recordType)
	}
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM `+table+`
		WHERE subject_id = $1 AND `+dateColByType[recordType]+`::date = $2::date
			AND id <> $3 AND invalidated_at IS NULL`,
		subjectID, date, excludeID).Scan(&n)
	return n, err
}

func (r *repoPG) ReplaceMeasurements(ctx context.Context, recordType string, recordID, subjectID uuid.UUID, measuredAt time.Time, canonical map[string]float64) error {
	c := r.conn(ctx)
	if _, err := c.Exec(ctx, `DELETE FROM measurement WHERE record_id = $1`, recordID); err != nil {
		return err
	}
	for quantity, value := range canonical {
		_, err := c.Exec(ctx, `
			INSERT INTO measurement (id, subject_id, record_type, record_id, quantity, canonical_value, measured_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			uuid.New(), subjectID, recordType, recordID, quantity, value, measuredAt)
		if err != nil {
			return err
		}
	}
	return nil
}
