package domain

import "time"

// Role is the fixed role of a user.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// PointsPerCorrectAnswer is the fixed scoring unit.
const PointsPerCorrectAnswer = 10

// School owns users and a curriculum.
type School struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logoUrl"`
}

// User is an identity that belongs to exactly one school.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	SchoolID int64  `json:"schoolId"`
}

// Student is a user specialization carrying a class label.
type Student struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	SchoolID int64  `json:"schoolId"`
	Class    string `json:"class"`
}

// Subject is a named category, unique by name.
type Subject struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Topic is the unit a quiz is built around; unique by (subject, name, class).
type Topic struct {
	ID        int64  `json:"topicId"`
	SubjectID int64  `json:"subjectId"`
	Subject   string `json:"subject"`
	Name      string `json:"topic"`
	Class     string `json:"class"`
}

// Options holds the four labeled answer options of a question.
type Options struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
	D string `json:"d"`
}

// Question is a multiple choice question together with its answer key.
type Question struct {
	ID            int64   `json:"id"`
	TopicID       int64   `json:"topicId"`
	Class         string  `json:"class"`
	Text          string  `json:"questionText"`
	Options       Options `json:"options"`
	CorrectAnswer string  `json:"correctAnswer"`
	Explanation   string  `json:"explanation"`
}

// QuizQuestion is a question as shown to a student, without its answer.
type QuizQuestion struct {
	ID      int64   `json:"id"`
	Text    string  `json:"questionText"`
	Options Options `json:"options"`
}

// AnswerKey is the authoritative set of questions for one topic, keyed by question id.
type AnswerKey struct {
	Topic     Topic
	Questions map[int64]Question
}

// Answer is one submitted answer.
type Answer struct {
	QuestionID     int64  `json:"questionId" validate:"gt=0"`
	SelectedOption string `json:"selectedOption" validate:"required"`
}

// GradedResponse is the outcome of grading one answer.
type GradedResponse struct {
	QuestionID     int64   `json:"questionId"`
	QuestionText   string  `json:"questionText"`
	Options        Options `json:"options"`
	SelectedOption string  `json:"selectedOption"`
	Correct        bool    `json:"correct"`
	CorrectAnswer  string  `json:"correctAnswer"`
	Explanation    string  `json:"explanation"`
}

// GradedAttempt is the result of grading a full submission.
type GradedAttempt struct {
	Score   int              `json:"score"`
	Results []GradedResponse `json:"results"`
}

// AttemptRecord identifies a persisted attempt.
type AttemptRecord struct {
	ID            int64     `json:"attemptId"`
	UserID        int64     `json:"userId"`
	TopicID       int64     `json:"topicId"`
	AttemptNumber int       `json:"attemptNumber"`
	Score         int       `json:"score"`
	AttemptedAt   time.Time `json:"attemptedAt"`
}

// Submission is the response to a graded and recorded attempt.
type Submission struct {
	AttemptID     int64            `json:"attemptId"`
	AttemptNumber int              `json:"attemptNumber"`
	Score         int              `json:"score"`
	Results       []GradedResponse `json:"results"`
}

// ScoreRow is one first-attempt score used as aggregation input.
type ScoreRow struct {
	UserID      int64
	StudentName string
	Score       int
}

// LeaderboardEntry is a single leaderboard line.
type LeaderboardEntry struct {
	StudentName string `json:"studentName"`
	Score       int    `json:"score"`
}

// TopicMetrics summarizes first-attempt performance on a topic within a school.
type TopicMetrics struct {
	ClassName         string             `json:"className"`
	Subject           string             `json:"subject"`
	Topic             string             `json:"topic"`
	TotalResponses    int                `json:"totalResponses"`
	AverageScore      float64            `json:"averageScore"`
	HighestScore      int                `json:"highestScore"`
	LowestScore       int                `json:"lowestScore"`
	ScoreDistribution [5]int             `json:"scoreDistribution"`
	Leaderboard       []LeaderboardEntry `json:"leaderboard"`
}

// TopicPerformance compares a student's first attempt with their class.
type TopicPerformance struct {
	TopicID      int64   `json:"topicId"`
	Topic        string  `json:"topic"`
	Score        int     `json:"score"`
	ClassAvg     float64 `json:"classAvg"`
	HighestScore int     `json:"highestScore"`
}

// AvailableQuiz is a topic a student can still take.
type AvailableQuiz struct {
	TopicID int64  `json:"topicId"`
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
}

// SchoolQuiz is a quiz visible to a school's administrators.
type SchoolQuiz struct {
	TopicID int64  `json:"topicId"`
	Class   string `json:"class"`
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
}

// PastQuiz is a topic a student has already taken, with the canonical score.
type PastQuiz struct {
	TopicID     int64     `json:"topicId"`
	Subject     string    `json:"subject"`
	Topic       string    `json:"topic"`
	Score       int       `json:"score"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

// Defaulter is a student who never attempted a topic.
type Defaulter struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// DefaulterReport lists defaulters for a topic within a school.
type DefaulterReport struct {
	ClassName  string      `json:"className"`
	Subject    string      `json:"subject"`
	Topic      string      `json:"topic"`
	Defaulters []Defaulter `json:"defaulters"`
}

// Assignment opens a topic quiz for a class of a school.
type Assignment struct {
	ID         int64     `json:"id"`
	SchoolID   int64     `json:"schoolId" validate:"gt=0"`
	Class      string    `json:"class" validate:"required"`
	SubjectID  int64     `json:"subjectId" validate:"gt=0"`
	TopicID    int64     `json:"topicId" validate:"gt=0"`
	AssignedBy int64     `json:"assignedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// QuestionRow is one structured row produced by the question bank import.
type QuestionRow struct {
	Text          string `json:"questionText" yaml:"question_text" validate:"required"`
	OptionA       string `json:"optionA" yaml:"option_a" validate:"required"`
	OptionB       string `json:"optionB" yaml:"option_b" validate:"required"`
	OptionC       string `json:"optionC" yaml:"option_c" validate:"required"`
	OptionD       string `json:"optionD" yaml:"option_d" validate:"required"`
	CorrectAnswer string `json:"correctAnswer" yaml:"correct_answer" validate:"required"`
	Explanation   string `json:"explanation" yaml:"explanation"`
}

// QuestionBank is a batch of questions for a single (subject, class, topic).
type QuestionBank struct {
	Subject   string        `json:"subject" yaml:"subject" validate:"required"`
	Class     string        `json:"class" yaml:"class" validate:"required"`
	Topic     string        `json:"topic" yaml:"topic" validate:"required"`
	Questions []QuestionRow `json:"questions" yaml:"questions" validate:"required,min=1,dive"`
}

// ImportResult reports where an imported bank landed.
type ImportResult struct {
	SubjectID int64 `json:"subjectId"`
	TopicID   int64 `json:"topicId"`
	Imported  int   `json:"imported"`
}

// Identity is the result of a successful login.
type Identity struct {
	UserID        int64  `json:"userId"`
	Username      string `json:"username"`
	Role          Role   `json:"role"`
	SchoolID      int64  `json:"schoolId"`
	SchoolLogoURL string `json:"schoolLogoUrl"`
}

// Credentials pairs an identity with its stored password hash.
type Credentials struct {
	Identity
	PasswordHash string
}
