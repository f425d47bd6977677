package app_test

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"school-quiz-service/internal/app"
	"school-quiz-service/internal/domain"
	"school-quiz-service/internal/infra/memory"
)

type fixture struct {
	store    *memory.Store
	service  *app.QuizService
	schoolID int64
	otherID  int64
	alice    int64
	bob      int64
	carol    int64
	dave     int64 // other school, same class
	erin     int64 // same school, other class
	teacher  int64
	plants   int64
	cells    int64
	science  int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	f := fixture{store: store}

	f.schoolID = store.AddSchool("Hill School", "https://cdn.example.com/hill.png")
	f.otherID = store.AddSchool("Lake School", "")
	f.alice = mustStudent(t, store, "alice", f.schoolID, "6B")
	f.bob = mustStudent(t, store, "bob", f.schoolID, "6B")
	f.carol = mustStudent(t, store, "carol", f.schoolID, "6B")
	f.dave = mustStudent(t, store, "dave", f.otherID, "6B")
	f.erin = mustStudent(t, store, "erin", f.schoolID, "7A")
	teacher, err := store.AddUser("tina", "secret", domain.RoleTeacher, f.schoolID)
	if err != nil {
		t.Fatalf("add teacher: %v", err)
	}
	f.teacher = teacher

	f.service = app.NewQuizService(store, memory.NewKeyLock(), app.WithLockWait(time.Second))

	plants, err := f.service.ImportQuestionBank(ctx, domain.QuestionBank{
		Subject: "Science", Class: "6B", Topic: "Plants",
		Questions: []domain.QuestionRow{
			{Text: "Which part makes food?", OptionA: "Root", OptionB: "Leaf", OptionC: "Stem", OptionD: "Flower", CorrectAnswer: "B"},
			{Text: "Plants absorb water through?", OptionA: "Roots", OptionB: "Leaves", OptionC: "Petals", OptionD: "Seeds", CorrectAnswer: "A"},
		},
	})
	if err != nil {
		t.Fatalf("import plants: %v", err)
	}
	cells, err := f.service.ImportQuestionBank(ctx, domain.QuestionBank{
		Subject: "Science", Class: "6B", Topic: "Cells",
		Questions: []domain.QuestionRow{
			{Text: "Powerhouse of the cell?", OptionA: "Nucleus", OptionB: "Ribosome", OptionC: "Mitochondria", OptionD: "Wall", CorrectAnswer: "C"},
		},
	})
	if err != nil {
		t.Fatalf("import cells: %v", err)
	}
	f.plants, f.cells, f.science = plants.TopicID, cells.TopicID, plants.SubjectID
	return f
}

func mustStudent(t *testing.T, store *memory.Store, name string, schoolID int64, class string) int64 {
	t.Helper()
	id, err := store.AddStudent(name, "pw-"+name, schoolID, class)
	if err != nil {
		t.Fatalf("add student %s: %v", name, err)
	}
	return id
}

// answersFor answers the first n questions of a topic correctly and the rest wrong.
func (f fixture) answersFor(t *testing.T, topicID int64, correct int) []domain.Answer {
	t.Helper()
	key, err := f.store.AnswerKey(context.Background(), topicID)
	if err != nil {
		t.Fatalf("answer key: %v", err)
	}
	ids := make([]int64, 0, len(key.Questions))
	for id := range key.Questions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	answers := make([]domain.Answer, 0, len(ids))
	for i, id := range ids {
		selected := key.Questions[id].CorrectAnswer
		if i >= correct {
			selected = "wrong"
		}
		answers = append(answers, domain.Answer{QuestionID: id, SelectedOption: selected})
	}
	return answers
}

func (f fixture) submit(t *testing.T, userID, topicID int64, correct int) domain.Submission {
	t.Helper()
	sub, err := f.service.SubmitAttempt(context.Background(), userID, topicID, f.answersFor(t, topicID, correct))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return sub
}

func TestSubmitAttemptGradesAndNumbers(t *testing.T) {
	f := newFixture(t)

	first := f.submit(t, f.alice, f.plants, 1)
	if first.Score != 10 || first.AttemptNumber != 1 {
		t.Fatalf("expected score 10 on attempt 1, got %+v", first)
	}
	if !first.Results[0].Correct || first.Results[1].Correct {
		t.Fatalf("expected first correct, second wrong: %+v", first.Results)
	}

	for want := 2; want <= 3; want++ {
		sub := f.submit(t, f.alice, f.plants, 2)
		if sub.AttemptNumber != want {
			t.Fatalf("expected attempt %d, got %d", want, sub.AttemptNumber)
		}
	}

	// Numbering is per (user, topic).
	if sub := f.submit(t, f.bob, f.plants, 0); sub.AttemptNumber != 1 {
		t.Fatalf("expected bob's first attempt to be 1, got %d", sub.AttemptNumber)
	}
	if sub := f.submit(t, f.alice, f.cells, 1); sub.AttemptNumber != 1 {
		t.Fatalf("expected first attempt on another topic to be 1, got %d", sub.AttemptNumber)
	}
}

func TestSubmitAttemptConcurrentNumbersAreUnique(t *testing.T) {
	f := newFixture(t)
	answers := f.answersFor(t, f.plants, 1)

	const n = 20
	var wg sync.WaitGroup
	numbers := make(chan int, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := f.service.SubmitAttempt(context.Background(), f.alice, f.plants, answers)
			if err != nil {
				errs <- err
				return
			}
			numbers <- sub.AttemptNumber
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent submit failed: %v", err)
	}
	seen := make(map[int]bool)
	for num := range numbers {
		if seen[num] {
			t.Fatalf("attempt number %d assigned twice", num)
		}
		seen[num] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Fatalf("attempt number %d missing, got %v", i, seen)
		}
	}
}

func TestSubmitAttemptErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.SubmitAttempt(ctx, 0, f.plants, f.answersFor(t, f.plants, 1))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = f.service.SubmitAttempt(ctx, f.alice, 9999, []domain.Answer{{QuestionID: 1, SelectedOption: "A"}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// A question from another topic is an invalid reference and records nothing.
	foreign := f.answersFor(t, f.cells, 1)
	_, err = f.service.SubmitAttempt(ctx, f.alice, f.plants, foreign)
	if !errors.Is(err, domain.ErrInvalidReference) {
		t.Fatalf("expected invalid reference, got %v", err)
	}
	if n := len(f.store.Attempts(f.alice, f.plants)); n != 0 {
		t.Fatalf("expected no attempts after invalid reference, got %d", n)
	}

	f.store.FailResponseInserts(true)
	_, err = f.service.SubmitAttempt(ctx, f.alice, f.plants, f.answersFor(t, f.plants, 1))
	if !errors.Is(err, domain.ErrRecordingFailed) {
		t.Fatalf("expected recording failure, got %v", err)
	}
	if n := len(f.store.Attempts(f.alice, f.plants)); n != 0 {
		t.Fatalf("expected no partial attempt, got %d", n)
	}
}

func TestSubmitAttemptWaitsForLockThenConflicts(t *testing.T) {
	f := newFixture(t)
	lock := memory.NewKeyLock()
	service := app.NewQuizService(f.store, lock, app.WithLockWait(30*time.Millisecond))

	unlock, err := lock.Lock(context.Background(), "attempt:"+itoa(f.alice)+":"+itoa(f.plants))
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer unlock()

	_, err = service.SubmitAttempt(context.Background(), f.alice, f.plants, f.answersFor(t, f.plants, 1))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict while key is held, got %v", err)
	}
}

func TestTopicMetricsUsesFirstAttemptsOfSchool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, f.alice, f.plants, 2) // 20
	f.submit(t, f.alice, f.plants, 0) // later attempt, excluded
	f.submit(t, f.bob, f.plants, 1)   // 10
	f.submit(t, f.dave, f.plants, 0)  // other school, excluded

	m, err := f.service.TopicMetrics(ctx, f.plants, f.schoolID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.TotalResponses != 2 || m.HighestScore != 20 || m.LowestScore != 10 || m.AverageScore != 15 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if m.ScoreDistribution != [5]int{2, 0, 0, 0, 0} {
		t.Fatalf("unexpected distribution %v", m.ScoreDistribution)
	}
	if len(m.Leaderboard) != 2 || m.Leaderboard[0].StudentName != "alice" {
		t.Fatalf("unexpected leaderboard %+v", m.Leaderboard)
	}
	if m.ClassName != "6B" || m.Subject != "Science" || m.Topic != "Plants" {
		t.Fatalf("unexpected labels %+v", m)
	}

	empty, err := f.service.TopicMetrics(ctx, f.cells, f.schoolID)
	if err != nil {
		t.Fatalf("metrics for untaken topic: %v", err)
	}
	if empty.TotalResponses != 0 || empty.ScoreDistribution != [5]int{} || len(empty.Leaderboard) != 0 {
		t.Fatalf("expected zero summary, got %+v", empty)
	}

	if _, err := f.service.TopicMetrics(ctx, 9999, f.schoolID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.service.TopicMetrics(ctx, -1, f.schoolID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// slowScores holds FirstAttemptScores open until released or its own ctx ends.
type slowScores struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowScores) FirstAttemptScores(ctx context.Context, topicID, schoolID int64) ([]domain.ScoreRow, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Store.FirstAttemptScores(ctx, topicID, schoolID)
}

func TestTopicMetricsSurvivesFirstCallerCancel(t *testing.T) {
	f := newFixture(t)
	f.submit(t, f.alice, f.plants, 2)
	f.submit(t, f.bob, f.plants, 1)

	store := &slowScores{Store: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	service := app.NewQuizService(store, memory.NewKeyLock())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := service.TopicMetrics(firstCtx, f.plants, f.schoolID)
		firstErr <- err
	}()
	<-store.entered

	type outcome struct {
		metrics domain.TopicMetrics
		err     error
	}
	second := make(chan outcome, 1)
	go func() {
		m, err := service.TopicMetrics(context.Background(), f.plants, f.schoolID)
		second <- outcome{m, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected first caller to see its own cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first caller did not return after cancel")
	}

	close(store.release)
	select {
	case got := <-second:
		if got.err != nil {
			t.Fatalf("waiting caller failed after first caller cancelled: %v", got.err)
		}
		if got.metrics.TotalResponses != 2 || got.metrics.HighestScore != 20 {
			t.Fatalf("unexpected metrics %+v", got.metrics)
		}
	case <-time.After(time.Second):
		t.Fatal("waiting caller did not return")
	}
}

func TestStudentSubjectPerformanceIsClassScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, f.alice, f.plants, 2) // 20
	f.submit(t, f.alice, f.plants, 0) // later attempt, ignored
	f.submit(t, f.bob, f.plants, 1)   // 10
	f.submit(t, f.carol, f.plants, 1) // 10
	f.submit(t, f.dave, f.plants, 2)  // other school
	f.submit(t, f.alice, f.cells, 0)  // 0

	rows, err := f.service.StudentSubjectPerformance(ctx, f.bob, f.science)
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected bob to have one attempted topic, got %+v", rows)
	}
	got := rows[0]
	if got.TopicID != f.plants || got.Score != 10 || got.ClassAvg != 13.3 || got.HighestScore != 20 {
		t.Fatalf("unexpected performance row %+v", got)
	}

	aliceRows, err := f.service.StudentSubjectPerformance(ctx, f.alice, f.science)
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if len(aliceRows) != 2 || aliceRows[0].Topic != "Cells" || aliceRows[1].Score != 20 {
		t.Fatalf("unexpected alice rows %+v", aliceRows)
	}

	if _, err := f.service.StudentSubjectPerformance(ctx, f.teacher, f.science); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for non-student, got %v", err)
	}
	if _, err := f.service.StudentSubjectPerformance(ctx, f.bob, 9999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown subject, got %v", err)
	}
}

func TestAvailableQuizzesShrinkAfterAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.service.AvailableQuizzes(ctx, f.alice)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(before) != 2 {
		t.Fatalf("expected both topics available, got %+v", before)
	}

	f.submit(t, f.alice, f.plants, 0)
	after, err := f.service.AvailableQuizzes(ctx, f.alice)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(after) != 1 || after[0].TopicID != f.cells {
		t.Fatalf("expected only Cells left, got %+v", after)
	}

	other, err := f.service.AvailableQuizzes(ctx, f.erin)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected nothing for class 7A, got %+v", other)
	}

	unknown, err := f.service.AvailableQuizzes(ctx, 9999)
	if err != nil || unknown == nil || len(unknown) != 0 {
		t.Fatalf("expected empty list for unknown student, got %+v, %v", unknown, err)
	}
}

func TestDefaultersExcludeAttemptedStudents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, f.alice, f.plants, 1)
	f.submit(t, f.alice, f.plants, 1)

	report, err := f.service.Defaulters(ctx, f.plants, f.schoolID)
	if err != nil {
		t.Fatalf("defaulters: %v", err)
	}
	if report.ClassName != "6B" || report.Topic != "Plants" {
		t.Fatalf("unexpected labels %+v", report)
	}
	names := make([]string, 0, len(report.Defaulters))
	for _, d := range report.Defaulters {
		if d.UserID == f.alice {
			t.Fatalf("alice attempted the topic but is listed as a defaulter")
		}
		names = append(names, d.Username)
	}
	if len(names) != 2 || names[0] != "bob" || names[1] != "carol" {
		t.Fatalf("expected bob and carol, got %v", names)
	}

	f.submit(t, f.bob, f.plants, 0)
	f.submit(t, f.carol, f.plants, 0)
	report, err = f.service.Defaulters(ctx, f.plants, f.schoolID)
	if err != nil {
		t.Fatalf("defaulters: %v", err)
	}
	if report.Defaulters == nil || len(report.Defaulters) != 0 {
		t.Fatalf("expected empty defaulter list, got %+v", report.Defaulters)
	}

	if _, err := f.service.Defaulters(ctx, 9999, f.schoolID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAssignQuiz(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := domain.Assignment{SchoolID: f.schoolID, Class: "6B", SubjectID: f.science, TopicID: f.plants, AssignedBy: f.teacher}
	created, err := f.service.AssignQuiz(ctx, a)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected assignment id")
	}
	if _, err := f.service.AssignQuiz(ctx, a); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on duplicate, got %v", err)
	}

	wrongClass := a
	wrongClass.Class = "7A"
	if _, err := f.service.AssignQuiz(ctx, wrongClass); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for class mismatch, got %v", err)
	}

	list, err := f.service.Assignments(ctx, f.schoolID, "6B")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one assignment, got %+v, %v", list, err)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.service.Login(ctx, "alice", "pw-alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if id.UserID != f.alice || id.Role != domain.RoleStudent || id.SchoolID != f.schoolID || id.SchoolLogoURL == "" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if _, err := f.service.Login(ctx, "alice", "nope"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := f.service.Login(ctx, "nobody", "nope"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestSchoolQuizzesFollowCurriculum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.service.SchoolQuizzes(ctx, f.schoolID)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no quizzes without curriculum, got %+v, %v", none, err)
	}

	f.store.AddCurriculum(f.schoolID, "6B", f.science)
	quizzes, err := f.service.SchoolQuizzes(ctx, f.schoolID)
	if err != nil {
		t.Fatalf("school quizzes: %v", err)
	}
	if len(quizzes) != 2 || quizzes[0].Topic != "Cells" || quizzes[1].Topic != "Plants" {
		t.Fatalf("unexpected quizzes %+v", quizzes)
	}
}

func TestPastQuizzesListsFirstAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, f.alice, f.plants, 2)
	f.submit(t, f.alice, f.plants, 0)
	f.submit(t, f.alice, f.cells, 1)

	past, err := f.service.PastQuizzes(ctx, f.alice)
	if err != nil {
		t.Fatalf("past quizzes: %v", err)
	}
	if len(past) != 2 || past[0].TopicID != f.cells || past[1].Score != 20 {
		t.Fatalf("unexpected past quizzes %+v", past)
	}
}

func TestQuizQuestionsHideAnswers(t *testing.T) {
	f := newFixture(t)
	topic, questions, err := f.service.QuizQuestions(context.Background(), f.plants)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if topic.Name != "Plants" || len(questions) != 2 || questions[0].Options.B != "Leaf" {
		t.Fatalf("unexpected questions %+v %+v", topic, questions)
	}
}

func TestImportQuestionBankValidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.ImportQuestionBank(context.Background(), domain.QuestionBank{
		Subject: "Science", Class: "6B", Topic: "Soil",
		Questions: []domain.QuestionRow{{Text: "Missing options"}},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
