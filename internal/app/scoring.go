package app

import (
	"fmt"

	"school-quiz-service/internal/domain"
)

// Grade scores a submission against a topic's answer key. It has no side effects:
// the same key and answers always produce the same result.
func Grade(key domain.AnswerKey, answers []domain.Answer) (domain.GradedAttempt, error) {
	if len(answers) == 0 {
		return domain.GradedAttempt{}, fmt.Errorf("%w: at least one answer is required", domain.ErrValidation)
	}

	seen := make(map[int64]struct{}, len(answers))
	results := make([]domain.GradedResponse, 0, len(answers))
	score := 0
	for _, answer := range answers {
		if _, dup := seen[answer.QuestionID]; dup {
			return domain.GradedAttempt{}, fmt.Errorf("%w: question %d answered more than once", domain.ErrValidation, answer.QuestionID)
		}
		seen[answer.QuestionID] = struct{}{}

		question, ok := key.Questions[answer.QuestionID]
		if !ok {
			return domain.GradedAttempt{}, fmt.Errorf("%w: question %d is not part of topic %d", domain.ErrInvalidReference, answer.QuestionID, key.Topic.ID)
		}

		correct := answer.SelectedOption == question.CorrectAnswer
		if correct {
			score += domain.PointsPerCorrectAnswer
		}
		results = append(results, domain.GradedResponse{
			QuestionID:     question.ID,
			QuestionText:   question.Text,
			Options:        question.Options,
			SelectedOption: answer.SelectedOption,
			Correct:        correct,
			CorrectAnswer:  question.CorrectAnswer,
			Explanation:    question.Explanation,
		})
	}

	return domain.GradedAttempt{Score: score, Results: results}, nil
}

// NextAttemptNumber returns the attempt number following the current maximum (0 when none exist).
func NextAttemptNumber(currentMax int) int {
	if currentMax < 0 {
		currentMax = 0
	}
	return currentMax + 1
}

func attemptLockKey(userID, topicID int64) string {
	return fmt.Sprintf("attempt:%d:%d", userID, topicID)
}
