package subject

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

type mockRepo struct {
	Repository
	created *Subject
	updated *Subject
}

func (m *mockRepo) Create(_ context.Context, s *Subject) error {
	m.created = s
	return nil
}

func (m *mockRepo) Update(_ context.Context, s *Subject) error {
	m.updated = s
	return nil
}

func validSubject() *Subject {
	return &Subject{
		StudyID:     uuid.New(),
		CenterCode:  "site-a",
		PatientCode: "A-0001",
		Sex:         "F",
	}
}

func TestCreateValidSubject(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)
	if err := svc.Create(context.Background(), validSubject()); err != nil {
		t.Fatal(err)
	}
	if repo.created == nil {
		t.Error("subject not stored")
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Subject)
	}{
		{"missing study", func(s *Subject) { s.StudyID = uuid.Nil }},
		{"missing center", func(s *Subject) { s.CenterCode = "" }},
		{"empty patient code", func(s *Subject) { s.PatientCode = "" }},
		{"patient code with spaces", func(s *Subject) { s.PatientCode = "Wang Xiaoming" }},
		{"patient code too long", func(s *Subject) { s.PatientCode = "A-00000000000000000000000000000001" }},
		{"bad sex code", func(s *Subject) { s.Sex = "female" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&mockRepo{})
			sub := validSubject()
			tt.mutate(sub)
			if err := svc.Create(context.Background(), sub); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCreateAllowsUnknownSex(t *testing.T) {
	svc := NewService(&mockRepo{})
	sub := validSubject()
	sub.Sex = ""
	if err := svc.Create(context.Background(), sub); err != nil {
		t.Errorf("blank sex should be accepted (eGFR derivation will report inputs missing): %v", err)
	}
}

func TestUpdateRejectsBadSex(t *testing.T) {
	svc := NewService(&mockRepo{})
	sub := validSubject()
	sub.ID = uuid.New()
	sub.Sex = "X"
	if err := svc.Update(context.Background(), sub); err == nil {
		t.Error("expected validation error")
	}
}
