package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"school-quiz-service/internal/app"
	"school-quiz-service/internal/domain"
	"school-quiz-service/internal/logger"
)

// Handler exposes the quiz use cases over JSON/HTTP.
type Handler struct {
	service  *app.QuizService
	log      *logger.Logger
	validate *validator.Validate
}

func NewHandler(service *app.QuizService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{service: service, log: log, validate: validator.New()}
}

// Routes builds the router. An empty origin list allows any origin.
func (h *Handler) Routes(corsOrigins []string) http.Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, h.requestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Post("/login", h.Login)

	r.Route("/quiz", func(r chi.Router) {
		r.Get("/questions", h.QuizQuestions)
		r.Post("/submit", h.SubmitQuiz)
	})
	r.Route("/student", func(r chi.Router) {
		r.Get("/performance", h.StudentPerformance)
		r.Get("/quizzes", h.AvailableQuizzes)
		r.Get("/old-quizzes", h.PastQuizzes)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Get("/performance-metrics", h.PerformanceMetrics)
		r.Get("/defaulters", h.Defaulters)
		r.Get("/quizzes", h.SchoolQuizzes)
		r.Post("/upload-questions", h.UploadQuestions)
	})
	r.Route("/teacher", func(r chi.Router) {
		r.Get("/assignments", h.ListAssignments)
		r.Post("/assignments", h.CreateAssignment)
	})
	return r
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

var success = envelope{Success: true}

type submitRequest struct {
	UserID  int64           `json:"userId" validate:"gt=0"`
	TopicID int64           `json:"topicId" validate:"gt=0"`
	Answers []domain.Answer `json:"answers" validate:"required,min=1,dive"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	submission, err := h.service.SubmitAttempt(r.Context(), req.UserID, req.TopicID, req.Answers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		domain.Submission
	}{success, submission})
}

func (h *Handler) QuizQuestions(w http.ResponseWriter, r *http.Request) {
	topicID, err := parseID(r, "topicId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	topic, questions, err := h.service.QuizQuestions(r.Context(), topicID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Subject   string                `json:"subject"`
		Topic     string                `json:"topic"`
		Class     string                `json:"class"`
		Questions []domain.QuizQuestion `json:"questions"`
	}{success, topic.Subject, topic.Name, topic.Class, questions})
}

func (h *Handler) PerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	topicID, schoolID, err := parseTopicAndSchool(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics, err := h.service.TopicMetrics(r.Context(), topicID, schoolID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		domain.TopicMetrics
	}{success, metrics})
}

func (h *Handler) Defaulters(w http.ResponseWriter, r *http.Request) {
	topicID, schoolID, err := parseTopicAndSchool(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.service.Defaulters(r.Context(), topicID, schoolID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		domain.DefaulterReport
	}{success, report})
}

func (h *Handler) SchoolQuizzes(w http.ResponseWriter, r *http.Request) {
	schoolID, err := parseID(r, "schoolId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	quizzes, err := h.service.SchoolQuizzes(r.Context(), schoolID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		AvailableQuizzes []domain.SchoolQuiz `json:"availableQuizzes"`
	}{success, quizzes})
}

func (h *Handler) UploadQuestions(w http.ResponseWriter, r *http.Request) {
	var bank domain.QuestionBank
	if err := h.decode(r, &bank); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.service.ImportQuestionBank(r.Context(), bank)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		domain.ImportResult
	}{envelope{Success: true, Message: fmt.Sprintf("%d questions uploaded", result.Imported)}, result})
}

func (h *Handler) StudentPerformance(w http.ResponseWriter, r *http.Request) {
	studentID, err := parseID(r, "studentId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	subjectID, err := parseID(r, "subjectId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	performance, err := h.service.StudentSubjectPerformance(r.Context(), studentID, subjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Performance []domain.TopicPerformance `json:"performance"`
	}{success, performance})
}

func (h *Handler) AvailableQuizzes(w http.ResponseWriter, r *http.Request) {
	studentID, err := parseID(r, "studentId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	quizzes, err := h.service.AvailableQuizzes(r.Context(), studentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		AvailableQuizzes []domain.AvailableQuiz `json:"availableQuizzes"`
	}{success, quizzes})
}

func (h *Handler) PastQuizzes(w http.ResponseWriter, r *http.Request) {
	studentID, err := parseID(r, "studentId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	quizzes, err := h.service.PastQuizzes(r.Context(), studentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		OldQuizzes []domain.PastQuiz `json:"oldQuizzes"`
	}{success, quizzes})
}

func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req domain.Assignment
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.service.AssignQuiz(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		envelope
		Assignment domain.Assignment `json:"assignment"`
	}{success, created})
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	schoolID, err := parseID(r, "schoolId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	assignments, err := h.service.Assignments(r.Context(), schoolID, r.URL.Query().Get("class"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Assignments []domain.Assignment `json:"assignments"`
	}{success, assignments})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	identity, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		domain.Identity
	}{success, identity})
}

// decode reads a JSON body into dst and runs its validate tags.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", domain.ErrValidation, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" failed "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func parseID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrValidation, name)
	}
	return id, nil
}

func parseTopicAndSchool(r *http.Request) (int64, int64, error) {
	topicID, err := parseID(r, "topicId")
	if err != nil {
		return 0, 0, err
	}
	schoolID, err := parseID(r, "schoolId")
	if err != nil {
		return 0, 0, err
	}
	return topicID, schoolID, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidReference):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to a status. Server-side failures are logged and
// answered with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.With("request_id", middleware.GetReqID(r.Context())).Error("request failed",
			"path", r.URL.Path,
			"error", err,
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := h.log.With("request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
