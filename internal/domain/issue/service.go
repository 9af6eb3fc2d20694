package issue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kidneysphere/registry/internal/platform/quality"
)

// Service owns the issue state machine:
//
//	OPEN -> IN_PROGRESS -> {RESOLVED, WONT_FIX}
//	OPEN -> RESOLVED (system auto-resolve)
//
// RESOLVED and WONT_FIX are terminal. The same dedup key may accumulate
// multiple terminal rows over time, but never more than one non-terminal
// row.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Raise opens a new issue for the key, or idempotently refreshes the
// message and severity of the one already open.
func (s *Service) Raise(ctx context.Context, key DedupKey, severity, message string) error {
	if key.RuleCode == "" {
		return fmt.Errorf("rule_code is required")
	}
	iss := &Issue{
		StudyID:    key.StudyID,
		SubjectID:  key.SubjectID,
		RecordType: key.RecordType,
		RecordID:   key.RecordID,
		RuleCode:   key.RuleCode,
		Severity:   severity,
		Status:     StatusOpen,
		Message:    message,
	}
	if err := s.repo.RaiseOrUpdate(ctx, iss); err != nil {
		return fmt.Errorf("raise issue %s: %w", key.RuleCode, err)
	}
	return nil
}

// ResolveIfOpen is the self-healing path: invoked after every write to the
// governing record, it closes any matching non-terminal issue once the
// triggering condition no longer holds.
func (s *Service) ResolveIfOpen(ctx context.Context, key DedupKey) (bool, error) {
	note := fmt.Sprintf("auto-resolved: rule %s no longer triggered as of %s",
		key.RuleCode, time.Now().UTC().Format(time.RFC3339))
	resolved, err := s.repo.Resolve(ctx, key, note)
	if err != nil {
		return false, fmt.Errorf("resolve issue %s: %w", key.RuleCode, err)
	}
	if resolved {
		s.log.Info().
			Str("rule_code", key.RuleCode).
			Str("subject_id", key.SubjectID.String()).
			Msg("issue auto-resolved")
	}
	return resolved, nil
}

// MarkInProgress transitions an OPEN issue to IN_PROGRESS.
func (s *Service) MarkInProgress(ctx context.Context, id uuid.UUID) (*Issue, error) {
	iss, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if iss.Status != StatusOpen {
		return nil, fmt.Errorf("issue %s is %s, not open", id, iss.Status)
	}
	iss.Status = StatusInProgress
	if err := s.repo.UpdateStatus(ctx, iss); err != nil {
		return nil, err
	}
	return iss, nil
}

// CloseWontFix is the operator's terminal transition. It requires a
// non-empty reason and refuses to touch an already-terminal issue.
func (s *Service) CloseWontFix(ctx context.Context, id uuid.UUID, reason string) (*Issue, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("a resolution note is required to close an issue as won't-fix")
	}
	iss, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(iss.Status) {
		return nil, fmt.Errorf("issue %s is already %s", id, iss.Status)
	}
	now := time.Now().UTC()
	iss.Status = StatusWontFix
	iss.ResolutionNote = &reason
	iss.ResolvedAt = &now
	if err := s.repo.UpdateStatus(ctx, iss); err != nil {
		return nil, err
	}
	return iss, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Issue, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Issue, int, error) {
	return s.repo.ListBySubject(ctx, subjectID, limit, offset)
}

func (s *Service) ListByStudy(ctx context.Context, studyID uuid.UUID, status string, limit, offset int) ([]*Issue, int, error) {
	return s.repo.ListByStudy(ctx, studyID, status, limit, offset)
}

// Stats assembles the read-only projections consumed by dashboards and by
// the snapshot component's export metadata.
func (s *Service) Stats(ctx context.Context, studyID uuid.UUID) (*StudyStats, error) {
	bySeverity, err := s.repo.CountOpenBySeverity(ctx, studyID)
	if err != nil {
		return nil, err
	}
	raised, closed, err := s.repo.CountTotals(ctx, studyID)
	if err != nil {
		return nil, err
	}
	missingCore, err := s.repo.MissingCoreRate(ctx, studyID, quality.RuleCoreMissing)
	if err != nil {
		return nil, err
	}
	stats := &StudyStats{
		OpenBySeverity:  bySeverity,
		TotalRaised:     raised,
		TotalClosed:     closed,
		MissingCoreRate: missingCore,
	}
	if raised > 0 {
		stats.ClosureRate = float64(closed) / float64(raised)
	}
	return stats, nil
}
