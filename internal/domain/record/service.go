package record

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kidneysphere/registry/internal/domain/issue"
	"github.com/kidneysphere/registry/internal/domain/study"
	"github.com/kidneysphere/registry/internal/domain/subject"
	"github.com/kidneysphere/registry/internal/platform/audit"
	"github.com/kidneysphere/registry/internal/platform/db"
	"github.com/kidneysphere/registry/internal/platform/quality"
)

// trackedRules are the non-blocking rules the issue ledger follows. After
// every accepted write the pipeline resolves any open issue for a tracked
// rule that no longer fires, so corrected data heals its own issues.
var trackedRules = []string{
	quality.RuleCoreMissing,
	quality.RuleUnitUnknown,
	quality.RuleDuplicateDay,
	quality.RuleJump,
	quality.RuleDerivedInputs,
}

// Auditor is the slice of the audit trail the write path needs.
// *audit.Trail implements it.
type Auditor interface {
	RecordChange(ctx context.Context, table string, recordID uuid.UUID, field, oldValue, newValue, actor, reason string) error
	RecordDiff(ctx context.Context, table string, recordID uuid.UUID, actor, reason string, before, after map[string]string) (int, error)
}

var _ Auditor = (*audit.Trail)(nil)

// Service runs every clinical write through the quality engine inside one
// transaction: write gate, subject lock, prior-state load, evaluation,
// persistence, issue bookkeeping and audit, all committing or rolling
// back together.
type Service struct {
	repo     Repository
	subjects subject.Repository
	studies  *study.Service
	issues   *issue.Service
	auditor  Auditor
	engine   *quality.Engine
	log      zerolog.Logger
	runTx    func(context.Context, func(context.Context) error) error
}

func NewService(pool *pgxpool.Pool, repo Repository, subjects subject.Repository,
	studies *study.Service, issues *issue.Service, auditor Auditor,
	engine *quality.Engine, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		subjects: subjects,
		studies:  studies,
		issues:   issues,
		auditor:  auditor,
		engine:   engine,
		log:      log,
		runTx: func(ctx context.Context, fn func(context.Context) error) error {
			return db.InTx(ctx, pool, fn)
		},
	}
}

var ErrSubjectInvalidated = errors.New("subject is invalidated")

// -- public submit/update entry points --

func (s *Service) SubmitVisit(ctx context.Context, v *Visit, actor string) error {
	assignID(&v.ID)
	v.CreatedBy = actor
	return s.submit(ctx, v, actor, nil, func(ctx context.Context) error {
		return s.repo.CreateVisit(ctx, v)
	})
}

func (s *Service) UpdateVisit(ctx context.Context, v *Visit, actor string) error {
	before, err := s.repo.GetVisit(ctx, v.ID)
	if err != nil {
		return fmt.Errorf("load visit %s: %w", v.ID, err)
	}
	v.StudyID, v.SubjectID = before.StudyID, before.SubjectID
	return s.submit(ctx, v, actor, before.auditFields(), func(ctx context.Context) error {
		return s.repo.UpdateVisit(ctx, v)
	})
}

func (s *Service) SubmitLab(ctx context.Context, l *LabResult, actor string) error {
	assignID(&l.ID)
	l.CreatedBy = actor
	return s.submit(ctx, l, actor, nil, func(ctx context.Context) error {
		return s.repo.CreateLab(ctx, l)
	})
}

func (s *Service) UpdateLab(ctx context.Context, l *LabResult, actor string) error {
	before, err := s.repo.GetLab(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("load lab result %s: %w", l.ID, err)
	}
	l.StudyID, l.SubjectID = before.StudyID, before.SubjectID
	return s.submit(ctx, l, actor, before.auditFields(), func(ctx context.Context) error {
		return s.repo.UpdateLab(ctx, l)
	})
}

func (s *Service) SubmitMedication(ctx context.Context, m *Medication, actor string) error {
	if m.DrugName == "" {
		return fmt.Errorf("drug_name is required")
	}
	assignID(&m.ID)
	m.CreatedBy = actor
	return s.submit(ctx, m, actor, nil, func(ctx context.Context) error {
		return s.repo.CreateMedication(ctx, m)
	})
}

func (s *Service) UpdateMedication(ctx context.Context, m *Medication, actor string) error {
	before, err := s.repo.GetMedication(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("load medication %s: %w", m.ID, err)
	}
	m.StudyID, m.SubjectID = before.StudyID, before.SubjectID
	return s.submit(ctx, m, actor, before.auditFields(), func(ctx context.Context) error {
		return s.repo.UpdateMedication(ctx, m)
	})
}

func (s *Service) SubmitEvent(ctx context.Context, e *OutcomeEvent, actor string) error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	assignID(&e.ID)
	e.CreatedBy = actor
	return s.submit(ctx, e, actor, nil, func(ctx context.Context) error {
		return s.repo.CreateEvent(ctx, e)
	})
}

func (s *Service) UpdateEvent(ctx context.Context, e *OutcomeEvent, actor string) error {
	before, err := s.repo.GetEvent(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("load outcome event %s: %w", e.ID, err)
	}
	e.StudyID, e.SubjectID = before.StudyID, before.SubjectID
	return s.submit(ctx, e, actor, before.auditFields(), func(ctx context.Context) error {
		return s.repo.UpdateEvent(ctx, e)
	})
}

// Invalidate soft-deletes a record; rows referenced by issues and the
// audit trail are never physically removed.
func (s *Service) Invalidate(ctx context.Context, recordType string, id uuid.UUID, actor, reason string) error {
	return s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Invalidate(ctx, recordType, id); err != nil {
			return err
		}
		return s.auditor.RecordChange(ctx, tableByType[recordType], id, "invalidated", "false", "true", actor, reason)
	})
}

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// submit is the one write path shared by every record type. before is nil
// on create; on update it carries the pre-image for audit diffing.
func (s *Service) submit(ctx context.Context, rec clinical, actor string, before map[string]string, persist func(context.Context) error) error {
	if err := s.studies.CheckWriteGate(ctx, rec.Study()); err != nil {
		return err
	}

	err := s.runTx(ctx, func(ctx context.Context) error {
		// Serialize same-subject writes so the prior-value and same-day
		// reads below are consistent with every committed write.
		if err := s.subjects.Lock(ctx, rec.Subject()); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("subject %s not found", rec.Subject())
			}
			return &quality.InfraError{Op: "lock subject", Err: err}
		}
		sub, err := s.subjects.GetByID(ctx, rec.Subject())
		if err != nil {
			return &quality.InfraError{Op: "load subject", Err: err}
		}
		if sub.InvalidatedAt != nil {
			return ErrSubjectInvalidated
		}
		if sub.StudyID != rec.Study() {
			return fmt.Errorf("subject %s does not belong to study %s", sub.ID, rec.Study())
		}

		rctx, err := s.loadContext(ctx, sub, rec)
		if err != nil {
			return err
		}

		res := s.engine.Evaluate(rec, rctx)
		if blocking := res.BySeverity(quality.SeverityBlocking); len(blocking) > 0 {
			return &quality.RejectionError{Reasons: blocking}
		}
		if needsAck := res.BySeverity(quality.SeverityNeedsAck); len(needsAck) > 0 && strings.TrimSpace(rec.justification()) == "" {
			return &quality.AckRequiredError{Reasons: needsAck}
		}

		rec.applyCanonical(res.Canonical)
		rec.applyEGFR(res.EGFR)

		if err := persist(ctx); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// The update statements skip invalidated rows, so a
				// missing row here means the record is gone for good.
				return fmt.Errorf("%s %s is invalidated: %w", rec.RecordType(), rec.RecordID(), pgx.ErrNoRows)
			}
			return &quality.InfraError{Op: "persist " + rec.RecordType(), Err: err}
		}
		if err := s.repo.ReplaceMeasurements(ctx, rec.RecordType(), rec.RecordID(), rec.Subject(), rec.Date(), res.Canonical); err != nil {
			return &quality.InfraError{Op: "project measurements", Err: err}
		}
		if err := s.bookkeepIssues(ctx, rec, res); err != nil {
			return err
		}
		if before != nil {
			reason := rec.justification()
			if _, err := s.auditor.RecordDiff(ctx, rec.table(), rec.RecordID(), actor, reason, before, rec.auditFields()); err != nil {
				return &quality.InfraError{Op: "audit record update", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		// A serialization or unique-key conflict at commit time means a
		// concurrent writer beat this transaction; report it retryable.
		if db.IsSerializationFailure(err) || db.IsUniqueViolation(err) {
			var infra *quality.InfraError
			if !errors.As(err, &infra) {
				return &quality.InfraError{Op: "commit " + rec.RecordType() + " write", Err: err}
			}
		}
		return err
	}

	s.log.Info().
		Str("record_type", rec.RecordType()).
		Str("record_id", rec.RecordID().String()).
		Str("subject_id", rec.Subject().String()).
		Str("actor", actor).
		Msg("record accepted")
	return nil
}

// loadContext assembles the subject's prior state for the validators: the
// baseline anchor (explicit baseline date, else first visit date), the
// most recent canonical value per measured quantity dated on or before
// the record, and the count of same-day records of the same type.
func (s *Service) loadContext(ctx context.Context, sub *subject.Subject, rec clinical) (*quality.Context, error) {
	anchor := sub.BaselineDate
	if anchor == nil {
		first, err := s.repo.FirstVisitDate(ctx, sub.ID)
		if err != nil {
			return nil, &quality.InfraError{Op: "load first visit date", Err: err}
		}
		anchor = first
	}

	prior := make(map[string]float64)
	for _, m := range rec.Measurements() {
		if _, done := prior[m.Quantity]; done {
			continue
		}
		v, err := s.repo.PriorCanonical(ctx, sub.ID, m.Quantity, rec.Date(), rec.RecordID())
		if err != nil {
			return nil, &quality.InfraError{Op: "load prior value", Err: err}
		}
		if v != nil {
			prior[m.Quantity] = *v
		}
	}

	sameDay, err := s.repo.CountSameDay(ctx, sub.ID, rec.RecordType(), rec.Date(), rec.RecordID())
	if err != nil {
		return nil, &quality.InfraError{Op: "count same-day records", Err: err}
	}

	return &quality.Context{
		BaselineAnchor: anchor,
		BirthYear:      sub.BirthYear,
		Sex:            sub.Sex,
		Prior:          prior,
		SameDayCount:   sameDay,
		ManualEGFR:     rec.manualEGFR(),
	}, nil
}

// bookkeepIssues raises one ledger entry per firing tracked rule and
// auto-resolves any open entry for a tracked rule that stopped firing.
func (s *Service) bookkeepIssues(ctx context.Context, rec clinical, res *quality.Result) error {
	fired := make(map[string]bool)
	for _, o := range res.IssueOutcomes() {
		key := s.dedupKey(rec, o.RuleCode)
		if err := s.issues.Raise(ctx, key, o.Severity.String(), o.Message); err != nil {
			return &quality.InfraError{Op: "raise issue", Err: err}
		}
		fired[o.RuleCode] = true
	}
	for _, rule := range trackedRules {
		if fired[rule] {
			continue
		}
		if _, err := s.issues.ResolveIfOpen(ctx, s.dedupKey(rec, rule)); err != nil {
			return &quality.InfraError{Op: "resolve issue", Err: err}
		}
	}
	return nil
}

func (s *Service) dedupKey(rec clinical, rule string) issue.DedupKey {
	return issue.DedupKey{
		StudyID:    rec.Study(),
		SubjectID:  rec.Subject(),
		RecordType: rec.RecordType(),
		RecordID:   rec.RecordID(),
		RuleCode:   rule,
	}
}

// -- reads --

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetVisit(ctx, id)
}

func (s *Service) GetLab(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return s.repo.GetLab(ctx, id)
}

func (s *Service) GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return s.repo.GetMedication(ctx, id)
}

func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (*OutcomeEvent, error) {
	return s.repo.GetEvent(ctx, id)
}

func (s *Service) ListVisits(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListVisitsBySubject(ctx, subjectID, limit, offset)
}

func (s *Service) ListLabs(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	return s.repo.ListLabsBySubject(ctx, subjectID, limit, offset)
}

func (s *Service) ListMedications(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Medication, int, error) {
	return s.repo.ListMedicationsBySubject(ctx, subjectID, limit, offset)
}

func (s *Service) ListEvents(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*OutcomeEvent, int, error) {
	return s.repo.ListEventsBySubject(ctx, subjectID, limit, offset)
}
