package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"school-quiz-service/internal/domain"
)

const foreignKeyViolation = "23503"

type subjectModel struct {
	bun.BaseModel `bun:"table:subjects"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

type topicModel struct {
	bun.BaseModel `bun:"table:topics"`

	ID        int64  `bun:"id,pk,autoincrement"`
	SubjectID int64  `bun:"subject_id,notnull"`
	Name      string `bun:"name,notnull"`
	Class     string `bun:"class,notnull"`
}

type questionModel struct {
	bun.BaseModel `bun:"table:questions"`

	ID            int64  `bun:"id,pk,autoincrement"`
	TopicID       int64  `bun:"topic_id,notnull"`
	Class         string `bun:"class,notnull"`
	Text          string `bun:"question_text,notnull"`
	OptionA       string `bun:"option_a,notnull"`
	OptionB       string `bun:"option_b,notnull"`
	OptionC       string `bun:"option_c,notnull"`
	OptionD       string `bun:"option_d,notnull"`
	CorrectAnswer string `bun:"correct_answer,notnull"`
	Explanation   string `bun:"explanation,notnull"`
}

type assignmentModel struct {
	bun.BaseModel `bun:"table:quiz_assignments"`

	ID         int64     `bun:"id,pk,autoincrement"`
	SchoolID   int64     `bun:"school_id,notnull"`
	Class      string    `bun:"class,notnull"`
	SubjectID  int64     `bun:"subject_id,notnull"`
	TopicID    int64     `bun:"topic_id,notnull"`
	AssignedBy int64     `bun:"assigned_by,nullzero"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (m assignmentModel) toDomain() domain.Assignment {
	return domain.Assignment{
		ID:         m.ID,
		SchoolID:   m.SchoolID,
		Class:      m.Class,
		SubjectID:  m.SubjectID,
		TopicID:    m.TopicID,
		AssignedBy: m.AssignedBy,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

// bunErr is storeErr for errors coming back through the bun driver.
func bunErr(op string, err error) error {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

func sqlState(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}

// ImportQuestionBank upserts the subject and topic by name and appends the questions.
// Either the whole bank lands or nothing does.
func (s *Store) ImportQuestionBank(ctx context.Context, bank domain.QuestionBank) (domain.ImportResult, error) {
	var result domain.ImportResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		subject := &subjectModel{Name: bank.Subject}
		if _, err := tx.NewInsert().
			Model(subject).
			On("CONFLICT (name) DO UPDATE").
			Set("name = EXCLUDED.name").
			Returning("id").
			Exec(ctx); err != nil {
			return bunErr("upsert subject", err)
		}

		topic := &topicModel{SubjectID: subject.ID, Name: bank.Topic, Class: bank.Class}
		if _, err := tx.NewInsert().
			Model(topic).
			On("CONFLICT (subject_id, name, class) DO UPDATE").
			Set("name = EXCLUDED.name").
			Returning("id").
			Exec(ctx); err != nil {
			return bunErr("upsert topic", err)
		}

		questions := make([]questionModel, 0, len(bank.Questions))
		for _, row := range bank.Questions {
			questions = append(questions, questionModel{
				TopicID:       topic.ID,
				Class:         bank.Class,
				Text:          row.Text,
				OptionA:       row.OptionA,
				OptionB:       row.OptionB,
				OptionC:       row.OptionC,
				OptionD:       row.OptionD,
				CorrectAnswer: row.CorrectAnswer,
				Explanation:   row.Explanation,
			})
		}
		if _, err := tx.NewInsert().Model(&questions).Exec(ctx); err != nil {
			return bunErr("insert questions", err)
		}

		result = domain.ImportResult{SubjectID: subject.ID, TopicID: topic.ID, Imported: len(questions)}
		return nil
	})
	if err != nil {
		return domain.ImportResult{}, err
	}
	return result, nil
}

func (s *Store) CreateAssignment(ctx context.Context, assignment domain.Assignment) (domain.Assignment, error) {
	m := &assignmentModel{
		SchoolID:   assignment.SchoolID,
		Class:      assignment.Class,
		SubjectID:  assignment.SubjectID,
		TopicID:    assignment.TopicID,
		AssignedBy: assignment.AssignedBy,
	}
	_, err := s.db.NewInsert().Model(m).Returning("id, created_at").Exec(ctx)
	switch sqlState(err) {
	case "":
	case uniqueViolation:
		return domain.Assignment{}, fmt.Errorf("%w: quiz already assigned to class %q", domain.ErrConflict, assignment.Class)
	case foreignKeyViolation:
		return domain.Assignment{}, fmt.Errorf("%w: %v", domain.ErrInvalidReference, err)
	}
	if err != nil {
		return domain.Assignment{}, bunErr("create assignment", err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListAssignments(ctx context.Context, schoolID int64, class string) ([]domain.Assignment, error) {
	var models []assignmentModel
	err := s.db.NewSelect().
		Model(&models).
		Where("school_id = ?", schoolID).
		Where("class = ?", class).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, bunErr("list assignments", err)
	}
	out := make([]domain.Assignment, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}
