package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"
	"school-quiz-service/internal/domain"
	"school-quiz-service/internal/logger"
)

// CatalogRepository exposes subjects, topics and questions.
type CatalogRepository interface {
	Topic(ctx context.Context, topicID int64) (domain.Topic, error)
	Subject(ctx context.Context, subjectID int64) (domain.Subject, error)
	AnswerKey(ctx context.Context, topicID int64) (domain.AnswerKey, error)
	QuizQuestions(ctx context.Context, topicID int64) ([]domain.QuizQuestion, error)
	SchoolQuizzes(ctx context.Context, schoolID int64) ([]domain.SchoolQuiz, error)
	ImportQuestionBank(ctx context.Context, bank domain.QuestionBank) (domain.ImportResult, error)
}

// AttemptRepository persists graded attempts. RecordAttempt must assign the next
// attempt number and write the attempt with all its responses atomically.
type AttemptRepository interface {
	RecordAttempt(ctx context.Context, userID, topicID int64, graded domain.GradedAttempt) (domain.AttemptRecord, error)
}

// ReportRepository serves the read side of the aggregation engine.
type ReportRepository interface {
	Student(ctx context.Context, studentID int64) (domain.Student, error)
	FirstAttemptScores(ctx context.Context, topicID, schoolID int64) ([]domain.ScoreRow, error)
	SubjectPerformance(ctx context.Context, student domain.Student, subjectID int64) ([]domain.TopicPerformance, error)
	PastQuizzes(ctx context.Context, studentID int64) ([]domain.PastQuiz, error)
}

// EligibilityRepository resolves which topics are still open and who has not taken them.
type EligibilityRepository interface {
	UnattemptedTopics(ctx context.Context, student domain.Student) ([]domain.AvailableQuiz, error)
	Defaulters(ctx context.Context, topic domain.Topic, schoolID int64) ([]domain.Defaulter, error)
}

// AssignmentRepository stores teacher assignments; duplicates fail with domain.ErrConflict.
type AssignmentRepository interface {
	CreateAssignment(ctx context.Context, assignment domain.Assignment) (domain.Assignment, error)
	ListAssignments(ctx context.Context, schoolID int64, class string) ([]domain.Assignment, error)
}

// IdentityRepository looks up login credentials.
type IdentityRepository interface {
	Credentials(ctx context.Context, username string) (domain.Credentials, error)
}

// Store is the full store handle the service operates on.
type Store interface {
	CatalogRepository
	AttemptRepository
	ReportRepository
	EligibilityRepository
	AssignmentRepository
	IdentityRepository
}

// AttemptLocker serializes work per key. The returned unlock must always be called.
type AttemptLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// QuizService contains the core quiz use cases.
type QuizService struct {
	store    Store
	locker   AttemptLocker
	lockWait time.Duration
	log      *logger.Logger
	sf       singleflight.Group

	// sharedReadTimeout bounds a coalesced load, which outlives the caller that started it.
	sharedReadTimeout time.Duration
}

// Option customizes a QuizService.
type Option func(*QuizService)

// WithLockWait bounds how long a submission waits for its (user, topic) lock.
func WithLockWait(d time.Duration) Option {
	return func(s *QuizService) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *QuizService) {
		if log != nil {
			s.log = log
		}
	}
}

// NewQuizService wires the use cases. With a nil locker, attempt numbering relies on the
// store's own atomicity.
func NewQuizService(store Store, locker AttemptLocker, opts ...Option) *QuizService {
	s := &QuizService{
		store:    store,
		locker:   locker,
		lockWait: 5 * time.Second,
		log:      logger.Nop(),

		sharedReadTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitAttempt grades a submission and records it as the next attempt for (user, topic).
func (s *QuizService) SubmitAttempt(ctx context.Context, userID, topicID int64, answers []domain.Answer) (domain.Submission, error) {
	if err := requirePositive("userId", userID); err != nil {
		return domain.Submission{}, err
	}
	if err := requirePositive("topicId", topicID); err != nil {
		return domain.Submission{}, err
	}

	key, err := s.store.AnswerKey(ctx, topicID)
	if err != nil {
		return domain.Submission{}, err
	}
	graded, err := Grade(key, answers)
	if err != nil {
		return domain.Submission{}, err
	}

	if s.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
		defer cancel()
		unlock, err := s.locker.Lock(lockCtx, attemptLockKey(userID, topicID))
		if err != nil {
			return domain.Submission{}, err
		}
		defer unlock()
	}

	record, err := s.store.RecordAttempt(ctx, userID, topicID, graded)
	if err != nil {
		s.log.Warn("attempt not recorded", "user_id", userID, "topic_id", topicID, "error", err)
		return domain.Submission{}, err
	}

	s.log.Info("attempt recorded",
		"attempt_id", record.ID,
		"user_id", userID,
		"topic_id", topicID,
		"attempt_number", record.AttemptNumber,
		"score", record.Score,
	)
	return domain.Submission{
		AttemptID:     record.ID,
		AttemptNumber: record.AttemptNumber,
		Score:         graded.Score,
		Results:       graded.Results,
	}, nil
}

// TopicMetrics summarizes first attempts on a topic by students of a school.
func (s *QuizService) TopicMetrics(ctx context.Context, topicID, schoolID int64) (domain.TopicMetrics, error) {
	if err := requirePositive("topicId", topicID); err != nil {
		return domain.TopicMetrics{}, err
	}
	if err := requirePositive("schoolId", schoolID); err != nil {
		return domain.TopicMetrics{}, err
	}

	// Coalesce identical concurrent requests; nothing is kept once the call returns.
	// The shared load runs detached from any one caller, and each caller waits on its own ctx.
	key := "metrics:" + strconv.FormatInt(topicID, 10) + ":" + strconv.FormatInt(schoolID, 10)
	ch := s.sf.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sharedReadTimeout)
		defer cancel()

		topic, err := s.store.Topic(loadCtx, topicID)
		if err != nil {
			return domain.TopicMetrics{}, err
		}
		rows, err := s.store.FirstAttemptScores(loadCtx, topicID, schoolID)
		if err != nil {
			return domain.TopicMetrics{}, err
		}
		return SummarizeScores(topic, rows), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.TopicMetrics{}, res.Err
		}
		return res.Val.(domain.TopicMetrics), nil
	case <-ctx.Done():
		return domain.TopicMetrics{}, ctx.Err()
	}
}

// StudentSubjectPerformance compares a student's first attempts in a subject with their class.
func (s *QuizService) StudentSubjectPerformance(ctx context.Context, studentID, subjectID int64) ([]domain.TopicPerformance, error) {
	if err := requirePositive("studentId", studentID); err != nil {
		return nil, err
	}
	if err := requirePositive("subjectId", subjectID); err != nil {
		return nil, err
	}

	student, err := s.store.Student(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Subject(ctx, subjectID); err != nil {
		return nil, err
	}

	rows, err := s.store.SubjectPerformance(ctx, student, subjectID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].ClassAvg = RoundOneDecimal(rows[i].ClassAvg)
	}
	return rows, nil
}

// AvailableQuizzes lists topics of the student's class the student never attempted.
// An unknown student has no available quizzes.
func (s *QuizService) AvailableQuizzes(ctx context.Context, studentID int64) ([]domain.AvailableQuiz, error) {
	if err := requirePositive("studentId", studentID); err != nil {
		return nil, err
	}
	student, err := s.store.Student(ctx, studentID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Debug("no student record", "student_id", studentID)
		return []domain.AvailableQuiz{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.store.UnattemptedTopics(ctx, student)
}

// Defaulters lists students in the topic's class and school with no attempt on the topic.
func (s *QuizService) Defaulters(ctx context.Context, topicID, schoolID int64) (domain.DefaulterReport, error) {
	if err := requirePositive("topicId", topicID); err != nil {
		return domain.DefaulterReport{}, err
	}
	if err := requirePositive("schoolId", schoolID); err != nil {
		return domain.DefaulterReport{}, err
	}

	topic, err := s.store.Topic(ctx, topicID)
	if err != nil {
		return domain.DefaulterReport{}, err
	}
	defaulters, err := s.store.Defaulters(ctx, topic, schoolID)
	if err != nil {
		return domain.DefaulterReport{}, err
	}
	return domain.DefaulterReport{
		ClassName:  topic.Class,
		Subject:    topic.Subject,
		Topic:      topic.Name,
		Defaulters: defaulters,
	}, nil
}

// QuizQuestions returns a topic with its questions stripped of answers.
func (s *QuizService) QuizQuestions(ctx context.Context, topicID int64) (domain.Topic, []domain.QuizQuestion, error) {
	if err := requirePositive("topicId", topicID); err != nil {
		return domain.Topic{}, nil, err
	}
	topic, err := s.store.Topic(ctx, topicID)
	if err != nil {
		return domain.Topic{}, nil, err
	}
	questions, err := s.store.QuizQuestions(ctx, topicID)
	if err != nil {
		return domain.Topic{}, nil, err
	}
	return topic, questions, nil
}

// SchoolQuizzes lists quizzes within the school's curriculum.
func (s *QuizService) SchoolQuizzes(ctx context.Context, schoolID int64) ([]domain.SchoolQuiz, error) {
	if err := requirePositive("schoolId", schoolID); err != nil {
		return nil, err
	}
	return s.store.SchoolQuizzes(ctx, schoolID)
}

// PastQuizzes lists the student's canonical (first) attempts, most recent first.
func (s *QuizService) PastQuizzes(ctx context.Context, studentID int64) ([]domain.PastQuiz, error) {
	if err := requirePositive("studentId", studentID); err != nil {
		return nil, err
	}
	return s.store.PastQuizzes(ctx, studentID)
}

// AssignQuiz opens a topic for a class. Assigning the same quiz twice is a conflict.
func (s *QuizService) AssignQuiz(ctx context.Context, assignment domain.Assignment) (domain.Assignment, error) {
	if err := requirePositive("schoolId", assignment.SchoolID); err != nil {
		return domain.Assignment{}, err
	}
	if err := requirePositive("subjectId", assignment.SubjectID); err != nil {
		return domain.Assignment{}, err
	}
	if err := requirePositive("topicId", assignment.TopicID); err != nil {
		return domain.Assignment{}, err
	}
	assignment.Class = strings.TrimSpace(assignment.Class)
	if assignment.Class == "" {
		return domain.Assignment{}, fmt.Errorf("%w: class is required", domain.ErrValidation)
	}

	topic, err := s.store.Topic(ctx, assignment.TopicID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if topic.SubjectID != assignment.SubjectID {
		return domain.Assignment{}, fmt.Errorf("%w: topic %d does not belong to subject %d", domain.ErrValidation, topic.ID, assignment.SubjectID)
	}
	if topic.Class != assignment.Class {
		return domain.Assignment{}, fmt.Errorf("%w: topic %d is for class %q, not %q", domain.ErrValidation, topic.ID, topic.Class, assignment.Class)
	}

	created, err := s.store.CreateAssignment(ctx, assignment)
	if err != nil {
		return domain.Assignment{}, err
	}
	s.log.Info("quiz assigned", "school_id", created.SchoolID, "class", created.Class, "topic_id", created.TopicID)
	return created, nil
}

// Assignments lists the quizzes assigned to a class.
func (s *QuizService) Assignments(ctx context.Context, schoolID int64, class string) ([]domain.Assignment, error) {
	if err := requirePositive("schoolId", schoolID); err != nil {
		return nil, err
	}
	class = strings.TrimSpace(class)
	if class == "" {
		return nil, fmt.Errorf("%w: class is required", domain.ErrValidation)
	}
	return s.store.ListAssignments(ctx, schoolID, class)
}

// ImportQuestionBank upserts the subject and topic of a bank and adds its questions.
func (s *QuizService) ImportQuestionBank(ctx context.Context, bank domain.QuestionBank) (domain.ImportResult, error) {
	bank.Subject = strings.TrimSpace(bank.Subject)
	bank.Class = strings.TrimSpace(bank.Class)
	bank.Topic = strings.TrimSpace(bank.Topic)
	if bank.Subject == "" || bank.Class == "" || bank.Topic == "" {
		return domain.ImportResult{}, fmt.Errorf("%w: subject, class and topic are required", domain.ErrValidation)
	}
	if len(bank.Questions) == 0 {
		return domain.ImportResult{}, fmt.Errorf("%w: question bank is empty", domain.ErrValidation)
	}
	for i, q := range bank.Questions {
		if strings.TrimSpace(q.Text) == "" || q.OptionA == "" || q.OptionB == "" || q.OptionC == "" || q.OptionD == "" || q.CorrectAnswer == "" {
			return domain.ImportResult{}, fmt.Errorf("%w: question %d is incomplete", domain.ErrValidation, i+1)
		}
	}

	result, err := s.store.ImportQuestionBank(ctx, bank)
	if err != nil {
		return domain.ImportResult{}, err
	}
	s.log.Info("question bank imported", "subject", bank.Subject, "class", bank.Class, "topic", bank.Topic, "imported", result.Imported)
	return result, nil
}

// Login checks credentials against the stored bcrypt hash.
func (s *QuizService) Login(ctx context.Context, username, password string) (domain.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Identity{}, fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}
	creds, err := s.store.Credentials(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Identity{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)) != nil {
		return domain.Identity{}, domain.ErrInvalidCredentials
	}
	return creds.Identity, nil
}

func requirePositive(name string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s must be a positive integer", domain.ErrValidation, name)
	}
	return nil
}
