package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"school-quiz-service/internal/app"
	"school-quiz-service/internal/domain"
)

const (
	uniqueViolation         = "23505"
	attemptNumberConstraint = "quiz_attempts_user_topic_attempt_key"
)

// RecordAttempt assigns the next attempt number and writes the attempt with all of its
// responses in one transaction. A concurrent writer that took the same number trips the
// unique constraint; the transaction is then rolled back and retried with a fresh maximum.
func (s *Store) RecordAttempt(ctx context.Context, userID, topicID int64, graded domain.GradedAttempt) (domain.AttemptRecord, error) {
	record, err := retryAttemptNumber(s.maxRetries, func() (domain.AttemptRecord, error) {
		return s.recordOnce(ctx, userID, topicID, graded)
	})
	if err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("record attempt for user %d topic %d: %w", userID, topicID, err)
	}
	return record, nil
}

// retryAttemptNumber runs record up to maxRetries times while it fails on the attempt
// number constraint. Any other failure is ErrRecordingFailed; running out of tries is ErrConflict.
func retryAttemptNumber(maxRetries int, record func() (domain.AttemptRecord, error)) (domain.AttemptRecord, error) {
	var lastErr error
	for try := 0; try < maxRetries; try++ {
		rec, err := record()
		if err == nil {
			return rec, nil
		}
		if !isAttemptNumberConflict(err) {
			return domain.AttemptRecord{}, fmt.Errorf("%w: %v", domain.ErrRecordingFailed, err)
		}
		lastErr = err
	}
	return domain.AttemptRecord{}, fmt.Errorf("%w: attempt number still contended after %d tries: %v",
		domain.ErrConflict, maxRetries, lastErr)
}

func (s *Store) recordOnce(ctx context.Context, userID, topicID int64, graded domain.GradedAttempt) (domain.AttemptRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.AttemptRecord{}, storeErr("begin attempt", err)
	}
	defer tx.Rollback(ctx)

	var currentMax int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0)
		 FROM quiz_attempts
		 WHERE user_id = $1 AND topic_id = $2`, userID, topicID,
	).Scan(&currentMax); err != nil {
		return domain.AttemptRecord{}, storeErr("read attempt number", err)
	}

	record := domain.AttemptRecord{
		UserID:        userID,
		TopicID:       topicID,
		AttemptNumber: app.NextAttemptNumber(currentMax),
		Score:         graded.Score,
	}
	var attemptedAt time.Time
	if err := tx.QueryRow(ctx,
		`INSERT INTO quiz_attempts (user_id, topic_id, score, attempt_number)
		 VALUES ($1, $2, $3, $4)
		 RETURNING attempt_id, attempted_at`,
		userID, topicID, graded.Score, record.AttemptNumber,
	).Scan(&record.ID, &attemptedAt); err != nil {
		return domain.AttemptRecord{}, storeErr("insert attempt", err)
	}
	record.AttemptedAt = attemptedAt.UTC()

	batch := &pgx.Batch{}
	for _, r := range graded.Results {
		batch.Queue(
			`INSERT INTO quiz_attempt_responses (attempt_id, question_id, selected_option, is_correct)
			 VALUES ($1, $2, $3, $4)`,
			record.ID, r.QuestionID, r.SelectedOption, r.Correct,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range graded.Results {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return domain.AttemptRecord{}, storeErr("insert response", err)
		}
	}
	if err := br.Close(); err != nil {
		return domain.AttemptRecord{}, storeErr("insert responses", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.AttemptRecord{}, storeErr("commit attempt", err)
	}
	return record, nil
}

func isAttemptNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == attemptNumberConstraint
}
