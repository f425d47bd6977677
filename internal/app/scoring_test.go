package app_test

import (
	"errors"
	"reflect"
	"testing"

	"school-quiz-service/internal/app"
	"school-quiz-service/internal/domain"
)

func twoQuestionKey() domain.AnswerKey {
	return domain.AnswerKey{
		Topic: domain.Topic{ID: 7, Name: "Plants", Class: "6B"},
		Questions: map[int64]domain.Question{
			1: {ID: 1, TopicID: 7, Text: "Which part makes food?", Options: domain.Options{A: "Root", B: "Leaf", C: "Stem", D: "Flower"}, CorrectAnswer: "B", Explanation: "Leaves photosynthesize."},
			2: {ID: 2, TopicID: 7, Text: "Plants absorb water through?", Options: domain.Options{A: "Roots", B: "Leaves", C: "Petals", D: "Seeds"}, CorrectAnswer: "A", Explanation: "Roots absorb water."},
		},
	}
}

func TestGradeScoresCorrectAnswers(t *testing.T) {
	graded, err := app.Grade(twoQuestionKey(), []domain.Answer{
		{QuestionID: 1, SelectedOption: "B"},
		{QuestionID: 2, SelectedOption: "C"},
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if graded.Score != 10 {
		t.Fatalf("expected score 10, got %d", graded.Score)
	}
	if len(graded.Results) != 2 || !graded.Results[0].Correct || graded.Results[1].Correct {
		t.Fatalf("expected Q1 correct and Q2 incorrect, got %+v", graded.Results)
	}
	q2 := graded.Results[1]
	if q2.CorrectAnswer != "A" || q2.Explanation != "Roots absorb water." || q2.Options.A != "Roots" || q2.QuestionText == "" {
		t.Fatalf("expected full answer details on result, got %+v", q2)
	}
}

func TestGradeIsCaseSensitive(t *testing.T) {
	graded, err := app.Grade(twoQuestionKey(), []domain.Answer{{QuestionID: 1, SelectedOption: "b"}})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if graded.Score != 0 || graded.Results[0].Correct {
		t.Fatalf("expected lowercase option to be wrong, got %+v", graded)
	}
}

func TestGradeRejectsQuestionOutsideTopic(t *testing.T) {
	_, err := app.Grade(twoQuestionKey(), []domain.Answer{
		{QuestionID: 1, SelectedOption: "B"},
		{QuestionID: 99, SelectedOption: "A"},
	})
	if !errors.Is(err, domain.ErrInvalidReference) {
		t.Fatalf("expected invalid reference, got %v", err)
	}
}

func TestGradeRejectsEmptyAndDuplicateAnswers(t *testing.T) {
	if _, err := app.Grade(twoQuestionKey(), nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty submission, got %v", err)
	}
	_, err := app.Grade(twoQuestionKey(), []domain.Answer{
		{QuestionID: 1, SelectedOption: "B"},
		{QuestionID: 1, SelectedOption: "A"},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for duplicate question, got %v", err)
	}
}

func TestGradeIsDeterministic(t *testing.T) {
	answers := []domain.Answer{{QuestionID: 2, SelectedOption: "A"}, {QuestionID: 1, SelectedOption: "D"}}
	first, err := app.Grade(twoQuestionKey(), answers)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := app.Grade(twoQuestionKey(), answers)
		if err != nil {
			t.Fatalf("grade: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("grading changed between runs: %+v vs %+v", first, again)
		}
	}
}

func TestNextAttemptNumber(t *testing.T) {
	if app.NextAttemptNumber(0) != 1 || app.NextAttemptNumber(3) != 4 {
		t.Fatalf("unexpected next attempt numbers")
	}
}
