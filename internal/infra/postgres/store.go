package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/uptrace/bun"
	"school-quiz-service/internal/app"
	"school-quiz-service/internal/domain"
)

// Store implements app.Store on PostgreSQL. Queries and the attempt transaction run on
// the pgx pool; catalog import and assignments go through bun.
type Store struct {
	pool       *pgxpool.Pool
	db         *bun.DB
	maxRetries int
}

var _ app.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, db *bun.DB, maxRetries int) *Store {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Store{pool: pool, db: db, maxRetries: maxRetries}
}

// storeErr wraps err with op. Errors raised by the server keep their identity;
// anything else (dial, timeout, closed pool) is reported as domain.ErrStoreUnavailable.
func storeErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

func (s *Store) Topic(ctx context.Context, topicID int64) (domain.Topic, error) {
	var t domain.Topic
	err := s.pool.QueryRow(ctx,
		`SELECT t.id, t.subject_id, s.name, t.name, t.class
		 FROM topics t
		 JOIN subjects s ON s.id = t.subject_id
		 WHERE t.id = $1`, topicID,
	).Scan(&t.ID, &t.SubjectID, &t.Subject, &t.Name, &t.Class)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Topic{}, fmt.Errorf("%w: topic %d", domain.ErrNotFound, topicID)
	}
	if err != nil {
		return domain.Topic{}, storeErr("load topic", err)
	}
	return t, nil
}

func (s *Store) Subject(ctx context.Context, subjectID int64) (domain.Subject, error) {
	var sub domain.Subject
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM subjects WHERE id = $1`, subjectID).Scan(&sub.ID, &sub.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subject{}, fmt.Errorf("%w: subject %d", domain.ErrNotFound, subjectID)
	}
	if err != nil {
		return domain.Subject{}, storeErr("load subject", err)
	}
	return sub, nil
}

// AnswerKey loads every question of a topic, including the correct answers.
func (s *Store) AnswerKey(ctx context.Context, topicID int64) (domain.AnswerKey, error) {
	topic, err := s.Topic(ctx, topicID)
	if err != nil {
		return domain.AnswerKey{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, class, question_text, option_a, option_b, option_c, option_d, correct_answer, explanation
		 FROM questions
		 WHERE topic_id = $1`, topicID)
	if err != nil {
		return domain.AnswerKey{}, storeErr("load answer key", err)
	}
	defer rows.Close()

	key := domain.AnswerKey{Topic: topic, Questions: make(map[int64]domain.Question)}
	for rows.Next() {
		q := domain.Question{TopicID: topicID}
		if err := rows.Scan(&q.ID, &q.Class, &q.Text, &q.Options.A, &q.Options.B, &q.Options.C, &q.Options.D, &q.CorrectAnswer, &q.Explanation); err != nil {
			return domain.AnswerKey{}, storeErr("scan answer key", err)
		}
		key.Questions[q.ID] = q
	}
	if err := rows.Err(); err != nil {
		return domain.AnswerKey{}, storeErr("load answer key", err)
	}
	return key, nil
}

func (s *Store) QuizQuestions(ctx context.Context, topicID int64) ([]domain.QuizQuestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, question_text, option_a, option_b, option_c, option_d
		 FROM questions
		 WHERE topic_id = $1
		 ORDER BY id`, topicID)
	if err != nil {
		return nil, storeErr("load questions", err)
	}
	defer rows.Close()

	out := []domain.QuizQuestion{}
	for rows.Next() {
		var q domain.QuizQuestion
		if err := rows.Scan(&q.ID, &q.Text, &q.Options.A, &q.Options.B, &q.Options.C, &q.Options.D); err != nil {
			return nil, storeErr("scan question", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load questions", err)
	}
	return out, nil
}

// SchoolQuizzes lists topics with questions whose (class, subject) is in the school's curriculum.
func (s *Store) SchoolQuizzes(ctx context.Context, schoolID int64) ([]domain.SchoolQuiz, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.class, s.name, t.name
		 FROM topics t
		 JOIN subjects s ON s.id = t.subject_id
		 JOIN school_curriculum sc ON sc.subject_id = t.subject_id AND sc.class = t.class
		 WHERE sc.school_id = $1
		   AND EXISTS (SELECT 1 FROM questions q WHERE q.topic_id = t.id)
		 ORDER BY t.class, s.name, t.name`, schoolID)
	if err != nil {
		return nil, storeErr("list school quizzes", err)
	}
	defer rows.Close()

	out := []domain.SchoolQuiz{}
	for rows.Next() {
		var q domain.SchoolQuiz
		if err := rows.Scan(&q.TopicID, &q.Class, &q.Subject, &q.Topic); err != nil {
			return nil, storeErr("scan school quiz", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list school quizzes", err)
	}
	return out, nil
}

func (s *Store) Student(ctx context.Context, studentID int64) (domain.Student, error) {
	var st domain.Student
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.username, u.school_id, st.class
		 FROM students st
		 JOIN users u ON u.id = st.user_id
		 WHERE st.user_id = $1`, studentID,
	).Scan(&st.UserID, &st.Username, &st.SchoolID, &st.Class)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Student{}, fmt.Errorf("%w: student %d", domain.ErrNotFound, studentID)
	}
	if err != nil {
		return domain.Student{}, storeErr("load student", err)
	}
	return st, nil
}

func (s *Store) Credentials(ctx context.Context, username string) (domain.Credentials, error) {
	var c domain.Credentials
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.username, u.role, u.school_id, s.logo_url, u.password_hash
		 FROM users u
		 JOIN schools s ON s.id = u.school_id
		 WHERE u.username = $1`, username,
	).Scan(&c.UserID, &c.Username, &role, &c.SchoolID, &c.SchoolLogoURL, &c.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Credentials{}, fmt.Errorf("%w: user %q", domain.ErrNotFound, username)
	}
	if err != nil {
		return domain.Credentials{}, storeErr("load credentials", err)
	}
	c.Role = domain.Role(role)
	return c, nil
}
