package postgres

import (
	"context"
	"time"

	"school-quiz-service/internal/domain"
)

// FirstAttemptScores returns the attempt-number-1 score of every user of the school who
// took the topic, in recording order.
func (s *Store) FirstAttemptScores(ctx context.Context, topicID, schoolID int64) ([]domain.ScoreRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT qa.user_id, u.username, qa.score
		 FROM quiz_attempts qa
		 JOIN users u ON u.id = qa.user_id
		 WHERE qa.topic_id = $1
		   AND qa.attempt_number = 1
		   AND u.school_id = $2
		 ORDER BY qa.attempt_id`, topicID, schoolID)
	if err != nil {
		return nil, storeErr("load first attempts", err)
	}
	defer rows.Close()

	out := []domain.ScoreRow{}
	for rows.Next() {
		var r domain.ScoreRow
		if err := rows.Scan(&r.UserID, &r.StudentName, &r.Score); err != nil {
			return nil, storeErr("scan first attempt", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load first attempts", err)
	}
	return out, nil
}

// SubjectPerformance compares the student's first attempts in a subject against
// classmates in the same school and class. ClassAvg is returned unrounded.
func (s *Store) SubjectPerformance(ctx context.Context, student domain.Student, subjectID int64) ([]domain.TopicPerformance, error) {
	rows, err := s.pool.Query(ctx,
		`WITH peers AS (
		     SELECT qa.topic_id, qa.score
		     FROM quiz_attempts qa
		     JOIN students st ON st.user_id = qa.user_id
		     JOIN users u ON u.id = qa.user_id
		     WHERE qa.attempt_number = 1
		       AND st.class = $3
		       AND u.school_id = $4
		 )
		 SELECT t.id, t.name, qa.score,
		        COALESCE((SELECT AVG(p.score)::float8 FROM peers p WHERE p.topic_id = t.id), 0),
		        COALESCE((SELECT MAX(p.score) FROM peers p WHERE p.topic_id = t.id), 0)
		 FROM quiz_attempts qa
		 JOIN topics t ON t.id = qa.topic_id
		 WHERE qa.user_id = $1
		   AND qa.attempt_number = 1
		   AND t.subject_id = $2
		 ORDER BY t.name`,
		student.UserID, subjectID, student.Class, student.SchoolID)
	if err != nil {
		return nil, storeErr("load subject performance", err)
	}
	defer rows.Close()

	out := []domain.TopicPerformance{}
	for rows.Next() {
		var p domain.TopicPerformance
		if err := rows.Scan(&p.TopicID, &p.Topic, &p.Score, &p.ClassAvg, &p.HighestScore); err != nil {
			return nil, storeErr("scan subject performance", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load subject performance", err)
	}
	return out, nil
}

// PastQuizzes lists the topics the student has taken, newest first, with first-attempt scores.
func (s *Store) PastQuizzes(ctx context.Context, studentID int64) ([]domain.PastQuiz, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, s.name, t.name, qa.score, qa.attempted_at
		 FROM quiz_attempts qa
		 JOIN topics t ON t.id = qa.topic_id
		 JOIN subjects s ON s.id = t.subject_id
		 WHERE qa.user_id = $1
		   AND qa.attempt_number = 1
		 ORDER BY qa.attempt_id DESC`, studentID)
	if err != nil {
		return nil, storeErr("list past quizzes", err)
	}
	defer rows.Close()

	out := []domain.PastQuiz{}
	for rows.Next() {
		var (
			q  domain.PastQuiz
			at time.Time
		)
		if err := rows.Scan(&q.TopicID, &q.Subject, &q.Topic, &q.Score, &at); err != nil {
			return nil, storeErr("scan past quiz", err)
		}
		q.AttemptedAt = at.UTC()
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list past quizzes", err)
	}
	return out, nil
}

// UnattemptedTopics lists topics of the student's class that have questions and no
// attempt by the student.
func (s *Store) UnattemptedTopics(ctx context.Context, student domain.Student) ([]domain.AvailableQuiz, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, s.name, t.name
		 FROM topics t
		 JOIN subjects s ON s.id = t.subject_id
		 WHERE t.class = $1
		   AND EXISTS (SELECT 1 FROM questions q WHERE q.topic_id = t.id)
		   AND NOT EXISTS (
		       SELECT 1 FROM quiz_attempts qa
		       WHERE qa.topic_id = t.id AND qa.user_id = $2
		   )
		 ORDER BY s.name, t.name`, student.Class, student.UserID)
	if err != nil {
		return nil, storeErr("list available quizzes", err)
	}
	defer rows.Close()

	out := []domain.AvailableQuiz{}
	for rows.Next() {
		var q domain.AvailableQuiz
		if err := rows.Scan(&q.TopicID, &q.Subject, &q.Topic); err != nil {
			return nil, storeErr("scan available quiz", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list available quizzes", err)
	}
	return out, nil
}

// Defaulters lists students of the topic's class in the school with no attempt on it.
func (s *Store) Defaulters(ctx context.Context, topic domain.Topic, schoolID int64) ([]domain.Defaulter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.username
		 FROM students st
		 JOIN users u ON u.id = st.user_id
		 WHERE st.class = $1
		   AND u.school_id = $2
		   AND NOT EXISTS (
		       SELECT 1 FROM quiz_attempts qa
		       WHERE qa.user_id = st.user_id AND qa.topic_id = $3
		   )
		 ORDER BY u.username`, topic.Class, schoolID, topic.ID)
	if err != nil {
		return nil, storeErr("list defaulters", err)
	}
	defer rows.Close()

	out := []domain.Defaulter{}
	for rows.Next() {
		var d domain.Defaulter
		if err := rows.Scan(&d.UserID, &d.Username); err != nil {
			return nil, storeErr("scan defaulter", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list defaulters", err)
	}
	return out, nil
}
