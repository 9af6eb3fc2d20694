package issue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// mockRepo keeps the non-terminal uniqueness invariant in memory so the
// service's state machine can be exercised without a database.
type mockRepo struct {
	Repository
	byID       map[uuid.UUID]*Issue
	raised     int
	resolved   int
	updateCall int
}

func newMockRepo() *mockRepo {
	return &mockRepo{byID: make(map[uuid.UUID]*Issue)}
}

func (m *mockRepo) findOpen(key DedupKey) *Issue {
	for _, iss := range m.byID {
		if iss.Key() == key && !IsTerminal(iss.Status) {
			return iss
		}
	}
	return nil
}

func (m *mockRepo) RaiseOrUpdate(_ context.Context, iss *Issue) error {
	m.raised++
	if existing := m.findOpen(iss.Key()); existing != nil {
		existing.Severity = iss.Severity
		existing.Message = iss.Message
		*iss = *existing
		return nil
	}
	iss.ID = uuid.New()
	m.byID[iss.ID] = iss
	return nil
}

func (m *mockRepo) Resolve(_ context.Context, key DedupKey, note string) (bool, error) {
	iss := m.findOpen(key)
	if iss == nil {
		return false, nil
	}
	m.resolved++
	iss.Status = StatusResolved
	iss.ResolutionNote = &note
	return true, nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Issue, error) {
	iss, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *iss
	return &cp, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, iss *Issue) error {
	m.updateCall++
	m.byID[iss.ID] = iss
	return nil
}

func (m *mockRepo) CountOpenBySeverity(_ context.Context, _ uuid.UUID) ([]SeverityCount, error) {
	var out []SeverityCount
	counts := map[string]int{}
	for _, iss := range m.byID {
		if !IsTerminal(iss.Status) {
			counts[iss.Severity]++
		}
	}
	for sev, n := range counts {
		out = append(out, SeverityCount{Severity: sev, Count: n})
	}
	return out, nil
}

func (m *mockRepo) CountTotals(_ context.Context, _ uuid.UUID) (int, int, error) {
	raised, closed := 0, 0
	for _, iss := range m.byID {
		raised++
		if IsTerminal(iss.Status) {
			closed++
		}
	}
	return raised, closed, nil
}

func (m *mockRepo) MissingCoreRate(_ context.Context, _ uuid.UUID, _ string) (float64, error) {
	return 0.25, nil
}

func testKey() DedupKey {
	return DedupKey{
		StudyID:    uuid.New(),
		SubjectID:  uuid.New(),
		RecordType: "lab_result",
		RecordID:   uuid.New(),
		RuleCode:   "CORE_MISSING",
	}
}

func TestRaiseRequiresRuleCode(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	key := testKey()
	key.RuleCode = ""
	if err := svc.Raise(context.Background(), key, "info", "missing upcr"); err == nil {
		t.Error("raise without a rule code should fail")
	}
}

func TestRaiseIsIdempotentPerKey(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	key := testKey()
	ctx := context.Background()

	if err := svc.Raise(ctx, key, "info", "missing upcr"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Raise(ctx, key, "warning", "still missing upcr"); err != nil {
		t.Fatal(err)
	}
	if len(repo.byID) != 1 {
		t.Fatalf("two raises for one key created %d issues, want 1", len(repo.byID))
	}
	open := repo.findOpen(key)
	if open.Severity != "warning" || open.Message != "still missing upcr" {
		t.Errorf("second raise should refresh severity and message, got %+v", open)
	}
}

func TestRaiseAfterTerminalOpensNewOccurrence(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	key := testKey()
	ctx := context.Background()

	if err := svc.Raise(ctx, key, "info", "missing upcr"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveIfOpen(ctx, key); err != nil {
		t.Fatal(err)
	}
	if err := svc.Raise(ctx, key, "info", "missing again"); err != nil {
		t.Fatal(err)
	}
	if len(repo.byID) != 2 {
		t.Fatalf("key should accumulate terminal rows, got %d issues", len(repo.byID))
	}
}

func TestResolveIfOpen(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	key := testKey()
	ctx := context.Background()

	resolved, err := svc.ResolveIfOpen(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if resolved {
		t.Error("nothing open, resolve should report false")
	}

	if err := svc.Raise(ctx, key, "info", "missing upcr"); err != nil {
		t.Fatal(err)
	}
	resolved, err = svc.ResolveIfOpen(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !resolved {
		t.Error("open issue should be resolved")
	}
	open := repo.findOpen(key)
	if open != nil {
		t.Errorf("issue still non-terminal after resolve: %+v", open)
	}
}

func TestMarkInProgressOnlyFromOpen(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	key := testKey()
	ctx := context.Background()

	if err := svc.Raise(ctx, key, "warning", "value jump"); err != nil {
		t.Fatal(err)
	}
	id := repo.findOpen(key).ID

	iss, err := svc.MarkInProgress(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if iss.Status != StatusInProgress {
		t.Fatalf("status = %q, want in_progress", iss.Status)
	}

	if _, err := svc.MarkInProgress(ctx, id); err == nil {
		t.Error("in_progress issue should not transition to in_progress again")
	}
}

func TestCloseWontFix(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	key := testKey()
	ctx := context.Background()

	if err := svc.Raise(ctx, key, "warning", "value jump"); err != nil {
		t.Fatal(err)
	}
	id := repo.findOpen(key).ID

	if _, err := svc.CloseWontFix(ctx, id, "   "); err == nil {
		t.Error("blank reason should be rejected")
	}

	iss, err := svc.CloseWontFix(ctx, id, "confirmed transcription from source document")
	if err != nil {
		t.Fatal(err)
	}
	if iss.Status != StatusWontFix {
		t.Fatalf("status = %q, want wont_fix", iss.Status)
	}
	if iss.ResolutionNote == nil || *iss.ResolutionNote == "" {
		t.Error("resolution note should be persisted")
	}
	if iss.ResolvedAt == nil {
		t.Error("resolved_at should be set")
	}

	if _, err := svc.CloseWontFix(ctx, id, "again"); err == nil {
		t.Error("terminal issue should refuse further transitions")
	}
}

func TestStatsClosureRate(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	ctx := context.Background()
	studyID := uuid.New()

	keys := []DedupKey{testKey(), testKey(), testKey(), testKey()}
	for i, key := range keys {
		key.StudyID = studyID
		sev := "info"
		if i%2 == 1 {
			sev = "warning"
		}
		if err := svc.Raise(ctx, key, sev, "problem"); err != nil {
			t.Fatal(err)
		}
		keys[i] = key
	}
	if _, err := svc.ResolveIfOpen(ctx, keys[0]); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Stats(ctx, studyID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRaised != 4 || stats.TotalClosed != 1 {
		t.Errorf("totals = (%d, %d), want (4, 1)", stats.TotalRaised, stats.TotalClosed)
	}
	if stats.ClosureRate != 0.25 {
		t.Errorf("closure rate = %v, want 0.25", stats.ClosureRate)
	}
	if stats.MissingCoreRate != 0.25 {
		t.Errorf("missing-core rate = %v, want the repo's 0.25", stats.MissingCoreRate)
	}
}

func TestStatsEmptyStudy(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	stats, err := svc.Stats(context.Background(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if stats.ClosureRate != 0 {
		t.Errorf("closure rate with nothing raised = %v, want 0", stats.ClosureRate)
	}
}
