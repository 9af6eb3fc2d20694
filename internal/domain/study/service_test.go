package study

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type mockRepo struct {
	Repository
	studies map[uuid.UUID]*Study
}

func (m *mockRepo) Create(_ context.Context, s *Study) error {
	s.ID = uuid.New()
	m.studies[s.ID] = s
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Study, error) {
	s, ok := m.studies[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

func newMock() *mockRepo {
	return &mockRepo{studies: make(map[uuid.UUID]*Study)}
}

func TestCreateRequiresCodeAndName(t *testing.T) {
	svc := NewService(newMock())
	ctx := context.Background()
	if err := svc.Create(ctx, &Study{Name: "IgA nephropathy cohort"}); err == nil {
		t.Error("missing code should be rejected")
	}
	if err := svc.Create(ctx, &Study{Code: "IGAN"}); err == nil {
		t.Error("missing name should be rejected")
	}
	if err := svc.Create(ctx, &Study{Code: "IGAN", Name: "IgA nephropathy cohort"}); err != nil {
		t.Errorf("valid study rejected: %v", err)
	}
}

func TestWriteAllowed(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	tests := []struct {
		name  string
		study Study
		want  bool
	}{
		{"enabled, no expiry", Study{WriteEnabled: true}, true},
		{"disabled", Study{WriteEnabled: false}, false},
		{"enabled, not yet expired", Study{WriteEnabled: true, TrialExpiresAt: &future}, true},
		{"enabled but expired", Study{WriteEnabled: true, TrialExpiresAt: &past}, false},
		{"disabled and expired", Study{WriteEnabled: false, TrialExpiresAt: &past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.study.WriteAllowed(now); got != tt.want {
				t.Errorf("WriteAllowed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckWriteGate(t *testing.T) {
	repo := newMock()
	svc := NewService(repo)
	ctx := context.Background()

	open := &Study{Code: "OPEN", Name: "Open study", WriteEnabled: true}
	if err := svc.Create(ctx, open); err != nil {
		t.Fatal(err)
	}
	if err := svc.CheckWriteGate(ctx, open.ID); err != nil {
		t.Errorf("open gate reported closed: %v", err)
	}

	closed := &Study{Code: "CLOSED", Name: "Closed study", WriteEnabled: false}
	if err := svc.Create(ctx, closed); err != nil {
		t.Fatal(err)
	}
	err := svc.CheckWriteGate(ctx, closed.ID)
	var gate *ErrWriteGateClosed
	if !errors.As(err, &gate) {
		t.Errorf("err = %v, want ErrWriteGateClosed", err)
	}

	if err := svc.CheckWriteGate(ctx, uuid.New()); err == nil {
		t.Error("unknown study should fail the gate check")
	}
}
