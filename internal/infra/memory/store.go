package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"school-quiz-service/internal/app"
	"school-quiz-service/internal/domain"
)

// Store is an in-memory implementation of app.Store with the same constraints as the
// relational schema. It is used for tests and for running without Postgres.
type Store struct {
	mu    sync.RWMutex
	clock func() time.Time
	seq   int64

	schools     map[int64]domain.School
	users       map[int64]userRecord
	students    map[int64]string
	subjects    map[int64]domain.Subject
	topics      map[int64]domain.Topic
	curriculum  map[curriculumKey]struct{}
	questions   []domain.Question
	attempts    []domain.AttemptRecord
	responses   map[responseKey]bool
	assignments []domain.Assignment

	// failResponses makes RecordAttempt fail after inserting the attempt row; test hook.
	failResponses bool
}

type userRecord struct {
	user         domain.User
	passwordHash string
}

type curriculumKey struct {
	schoolID  int64
	class     string
	subjectID int64
}

type responseKey struct {
	attemptID  int64
	questionID int64
}

var _ app.Store = (*Store)(nil)

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock is for deterministic attempt timestamps in tests.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		clock:      now,
		schools:    make(map[int64]domain.School),
		users:      make(map[int64]userRecord),
		students:   make(map[int64]string),
		subjects:   make(map[int64]domain.Subject),
		topics:     make(map[int64]domain.Topic),
		curriculum: make(map[curriculumKey]struct{}),
		responses:  make(map[responseKey]bool),
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// AddSchool registers a school and returns its id.
func (s *Store) AddSchool(name, logoURL string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.schools[id] = domain.School{ID: id, Name: name, LogoURL: logoURL}
	return id
}

// AddUser registers a user with a bcrypt-hashed password and returns its id.
func (s *Store) AddUser(username, password string, role domain.Role, schoolID int64) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schools[schoolID]; !ok {
		return 0, fmt.Errorf("%w: school %d", domain.ErrNotFound, schoolID)
	}
	for _, rec := range s.users {
		if rec.user.Username == username {
			return 0, fmt.Errorf("%w: username %q taken", domain.ErrConflict, username)
		}
	}
	id := s.nextID()
	s.users[id] = userRecord{
		user:         domain.User{ID: id, Username: username, Role: role, SchoolID: schoolID},
		passwordHash: string(hash),
	}
	return id, nil
}

// AddStudent registers a student user in a class and returns the user id.
func (s *Store) AddStudent(username, password string, schoolID int64, class string) (int64, error) {
	id, err := s.AddUser(username, password, domain.RoleStudent, schoolID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.students[id] = class
	s.mu.Unlock()
	return id, nil
}

// AddCurriculum records that a school teaches a subject to a class.
func (s *Store) AddCurriculum(schoolID int64, class string, subjectID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curriculum[curriculumKey{schoolID: schoolID, class: class, subjectID: subjectID}] = struct{}{}
}

func (s *Store) Topic(_ context.Context, topicID int64) (domain.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topic, ok := s.topics[topicID]
	if !ok {
		return domain.Topic{}, fmt.Errorf("%w: topic %d", domain.ErrNotFound, topicID)
	}
	return topic, nil
}

func (s *Store) Subject(_ context.Context, subjectID int64) (domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[subjectID]
	if !ok {
		return domain.Subject{}, fmt.Errorf("%w: subject %d", domain.ErrNotFound, subjectID)
	}
	return subject, nil
}

func (s *Store) AnswerKey(_ context.Context, topicID int64) (domain.AnswerKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topic, ok := s.topics[topicID]
	if !ok {
		return domain.AnswerKey{}, fmt.Errorf("%w: topic %d", domain.ErrNotFound, topicID)
	}
	key := domain.AnswerKey{Topic: topic, Questions: make(map[int64]domain.Question)}
	for _, q := range s.questions {
		if q.TopicID == topicID {
			key.Questions[q.ID] = q
		}
	}
	return key, nil
}

func (s *Store) QuizQuestions(_ context.Context, topicID int64) ([]domain.QuizQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.QuizQuestion{}
	for _, q := range s.questions {
		if q.TopicID == topicID {
			out = append(out, domain.QuizQuestion{ID: q.ID, Text: q.Text, Options: q.Options})
		}
	}
	return out, nil
}

func (s *Store) SchoolQuizzes(_ context.Context, schoolID int64) ([]domain.SchoolQuiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.SchoolQuiz{}
	for _, topic := range s.topics {
		if !s.hasQuestionsLocked(topic.ID) {
			continue
		}
		if _, ok := s.curriculum[curriculumKey{schoolID: schoolID, class: topic.Class, subjectID: topic.SubjectID}]; !ok {
			continue
		}
		out = append(out, domain.SchoolQuiz{TopicID: topic.ID, Class: topic.Class, Subject: topic.Subject, Topic: topic.Name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Topic < out[j].Topic
	})
	return out, nil
}

// ImportQuestionBank upserts subject and topic and appends the questions in one step.
func (s *Store) ImportQuestionBank(_ context.Context, bank domain.QuestionBank) (domain.ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subject domain.Subject
	found := false
	for _, existing := range s.subjects {
		if existing.Name == bank.Subject {
			subject, found = existing, true
			break
		}
	}
	if !found {
		subject = domain.Subject{ID: s.nextID(), Name: bank.Subject}
		s.subjects[subject.ID] = subject
	}

	var topic domain.Topic
	found = false
	for _, existing := range s.topics {
		if existing.SubjectID == subject.ID && existing.Name == bank.Topic && existing.Class == bank.Class {
			topic, found = existing, true
			break
		}
	}
	if !found {
		topic = domain.Topic{ID: s.nextID(), SubjectID: subject.ID, Subject: subject.Name, Name: bank.Topic, Class: bank.Class}
		s.topics[topic.ID] = topic
	}

	for _, row := range bank.Questions {
		s.questions = append(s.questions, domain.Question{
			ID:            s.nextID(),
			TopicID:       topic.ID,
			Class:         bank.Class,
			Text:          row.Text,
			Options:       domain.Options{A: row.OptionA, B: row.OptionB, C: row.OptionC, D: row.OptionD},
			CorrectAnswer: row.CorrectAnswer,
			Explanation:   row.Explanation,
		})
	}
	return domain.ImportResult{SubjectID: subject.ID, TopicID: topic.ID, Imported: len(bank.Questions)}, nil
}

// RecordAttempt numbers and stores an attempt with its responses under one lock, so
// readers never observe a partial attempt.
func (s *Store) RecordAttempt(_ context.Context, userID, topicID int64, graded domain.GradedAttempt) (domain.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return domain.AttemptRecord{}, fmt.Errorf("%w: user %d does not exist", domain.ErrRecordingFailed, userID)
	}
	if _, ok := s.topics[topicID]; !ok {
		return domain.AttemptRecord{}, fmt.Errorf("%w: topic %d does not exist", domain.ErrRecordingFailed, topicID)
	}

	maxNumber := 0
	for _, a := range s.attempts {
		if a.UserID == userID && a.TopicID == topicID && a.AttemptNumber > maxNumber {
			maxNumber = a.AttemptNumber
		}
	}
	record := domain.AttemptRecord{
		ID:            s.nextID(),
		UserID:        userID,
		TopicID:       topicID,
		AttemptNumber: app.NextAttemptNumber(maxNumber),
		Score:         graded.Score,
		AttemptedAt:   s.clock().UTC(),
	}

	// staged enforces the (attempt_id, question_id) primary key of the responses table.
	// Grade already rejects duplicates; callers that skip it still get a rollback.
	staged := make(map[responseKey]bool, len(graded.Results))
	for _, r := range graded.Results {
		k := responseKey{attemptID: record.ID, questionID: r.QuestionID}
		if _, dup := staged[k]; dup {
			return domain.AttemptRecord{}, fmt.Errorf("%w: duplicate response for question %d", domain.ErrRecordingFailed, r.QuestionID)
		}
		if !s.questionInTopicLocked(r.QuestionID, topicID) {
			return domain.AttemptRecord{}, fmt.Errorf("%w: question %d does not exist", domain.ErrRecordingFailed, r.QuestionID)
		}
		if s.failResponses {
			return domain.AttemptRecord{}, fmt.Errorf("%w: response insert failed", domain.ErrRecordingFailed)
		}
		staged[k] = r.Correct
	}

	s.attempts = append(s.attempts, record)
	for k, v := range staged {
		s.responses[k] = v
	}
	return record, nil
}

// Attempts returns the recorded attempts for (user, topic) in insertion order.
func (s *Store) Attempts(userID, topicID int64) []domain.AttemptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AttemptRecord
	for _, a := range s.attempts {
		if a.UserID == userID && a.TopicID == topicID {
			out = append(out, a)
		}
	}
	return out
}

// ResponseCount returns the number of stored responses for an attempt.
func (s *Store) ResponseCount(attemptID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.responses {
		if k.attemptID == attemptID {
			n++
		}
	}
	return n
}

// FailResponseInserts toggles simulated response insert failures.
func (s *Store) FailResponseInserts(fail bool) {
	s.mu.Lock()
	s.failResponses = fail
	s.mu.Unlock()
}

func (s *Store) Student(_ context.Context, studentID int64) (domain.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	class, ok := s.students[studentID]
	if !ok {
		return domain.Student{}, fmt.Errorf("%w: student %d", domain.ErrNotFound, studentID)
	}
	user := s.users[studentID].user
	return domain.Student{UserID: studentID, Username: user.Username, SchoolID: user.SchoolID, Class: class}, nil
}

func (s *Store) FirstAttemptScores(_ context.Context, topicID, schoolID int64) ([]domain.ScoreRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := []domain.ScoreRow{}
	for _, a := range s.attempts {
		if a.TopicID != topicID || a.AttemptNumber != 1 {
			continue
		}
		user := s.users[a.UserID].user
		if user.SchoolID != schoolID {
			continue
		}
		rows = append(rows, domain.ScoreRow{UserID: a.UserID, StudentName: user.Username, Score: a.Score})
	}
	return rows, nil
}

func (s *Store) SubjectPerformance(_ context.Context, student domain.Student, subjectID int64) ([]domain.TopicPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.TopicPerformance{}
	for _, a := range s.attempts {
		if a.UserID != student.UserID || a.AttemptNumber != 1 {
			continue
		}
		topic := s.topics[a.TopicID]
		if topic.SubjectID != subjectID {
			continue
		}

		sum, count, highest := 0, 0, 0
		for _, peer := range s.attempts {
			if peer.TopicID != topic.ID || peer.AttemptNumber != 1 {
				continue
			}
			class, isStudent := s.students[peer.UserID]
			if !isStudent || class != student.Class || s.users[peer.UserID].user.SchoolID != student.SchoolID {
				continue
			}
			sum += peer.Score
			if count == 0 || peer.Score > highest {
				highest = peer.Score
			}
			count++
		}
		perf := domain.TopicPerformance{TopicID: topic.ID, Topic: topic.Name, Score: a.Score, HighestScore: highest}
		if count > 0 {
			perf.ClassAvg = float64(sum) / float64(count)
		}
		out = append(out, perf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

func (s *Store) PastQuizzes(_ context.Context, studentID int64) ([]domain.PastQuiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.PastQuiz{}
	for i := len(s.attempts) - 1; i >= 0; i-- {
		a := s.attempts[i]
		if a.UserID != studentID || a.AttemptNumber != 1 {
			continue
		}
		topic := s.topics[a.TopicID]
		out = append(out, domain.PastQuiz{TopicID: topic.ID, Subject: topic.Subject, Topic: topic.Name, Score: a.Score, AttemptedAt: a.AttemptedAt})
	}
	return out, nil
}

func (s *Store) UnattemptedTopics(_ context.Context, student domain.Student) ([]domain.AvailableQuiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.AvailableQuiz{}
	for _, topic := range s.topics {
		if topic.Class != student.Class || !s.hasQuestionsLocked(topic.ID) || s.hasAttemptLocked(student.UserID, topic.ID) {
			continue
		}
		out = append(out, domain.AvailableQuiz{TopicID: topic.ID, Subject: topic.Subject, Topic: topic.Name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Topic < out[j].Topic
	})
	return out, nil
}

func (s *Store) Defaulters(_ context.Context, topic domain.Topic, schoolID int64) ([]domain.Defaulter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Defaulter{}
	for userID, class := range s.students {
		user := s.users[userID].user
		if class != topic.Class || user.SchoolID != schoolID || s.hasAttemptLocked(userID, topic.ID) {
			continue
		}
		out = append(out, domain.Defaulter{UserID: userID, Username: user.Username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) CreateAssignment(_ context.Context, assignment domain.Assignment) (domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignments {
		if existing.SchoolID == assignment.SchoolID && existing.Class == assignment.Class &&
			existing.SubjectID == assignment.SubjectID && existing.TopicID == assignment.TopicID {
			return domain.Assignment{}, fmt.Errorf("%w: quiz already assigned to class %q", domain.ErrConflict, assignment.Class)
		}
	}
	assignment.ID = s.nextID()
	assignment.CreatedAt = s.clock().UTC()
	s.assignments = append(s.assignments, assignment)
	return assignment, nil
}

func (s *Store) ListAssignments(_ context.Context, schoolID int64, class string) ([]domain.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Assignment{}
	for _, a := range s.assignments {
		if a.SchoolID == schoolID && a.Class == class {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) Credentials(_ context.Context, username string) (domain.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.users {
		if rec.user.Username != username {
			continue
		}
		return domain.Credentials{
			Identity: domain.Identity{
				UserID:        rec.user.ID,
				Username:      rec.user.Username,
				Role:          rec.user.Role,
				SchoolID:      rec.user.SchoolID,
				SchoolLogoURL: s.schools[rec.user.SchoolID].LogoURL,
			},
			PasswordHash: rec.passwordHash,
		}, nil
	}
	return domain.Credentials{}, fmt.Errorf("%w: user %q", domain.ErrNotFound, username)
}

func (s *Store) hasQuestionsLocked(topicID int64) bool {
	for _, q := range s.questions {
		if q.TopicID == topicID {
			return true
		}
	}
	return false
}

func (s *Store) questionInTopicLocked(questionID, topicID int64) bool {
	for _, q := range s.questions {
		if q.ID == questionID {
			return q.TopicID == topicID
		}
	}
	return false
}

func (s *Store) hasAttemptLocked(userID, topicID int64) bool {
	for _, a := range s.attempts {
		if a.UserID == userID && a.TopicID == topicID {
			return true
		}
	}
	return false
}
