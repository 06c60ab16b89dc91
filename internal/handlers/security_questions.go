package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/carebridge/accountsec/internal/models"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
)

// SecurityQuestionServiceInterface defines recovery question operations
type SecurityQuestionServiceInterface interface {
	Save(ctx context.Context, userID string, pairs []models.QuestionAnswer) error
	Questions(ctx context.Context, userID string) ([]string, error)
	Verify(ctx context.Context, userID string, answers []string) error
}

type SecurityQuestionHandler struct {
	service SecurityQuestionServiceInterface
	logger  *slog.Logger
}

func NewSecurityQuestionHandler(service SecurityQuestionServiceInterface, logger *slog.Logger) *SecurityQuestionHandler {
	return &SecurityQuestionHandler{service: service, logger: logger}
}

type QuestionAnswerRequest struct {
	Question string `json:"question" validate:"required,max=255"`
	Answer   string `json:"answer" validate:"required,max=255"`
}

type SaveSecurityQuestionsRequest struct {
	Questions []QuestionAnswerRequest `json:"questions" validate:"required,len=3,dive"`
}

type SecurityQuestionsResponse struct {
	Questions []string `json:"questions"`
}

type VerifySecurityQuestionsRequest struct {
	Answers []string `json:"answers" validate:"required,len=3,dive,required,max=255"`
}

// Save replaces the caller's questions and answers
// @Router /security-questions/save [post]
func (h *SecurityQuestionHandler) Save(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	var req SaveSecurityQuestionsRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	pairs := make([]models.QuestionAnswer, 0, len(req.Questions))
	for _, q := range req.Questions {
		pairs = append(pairs, models.QuestionAnswer{Question: q.Question, Answer: q.Answer})
	}

	if err := h.service.Save(r.Context(), claims.UserID, pairs); err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Security questions saved"})
}

// Get returns the question texts without answers
// @Router /security-questions [get]
func (h *SecurityQuestionHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	questions, err := h.service.Questions(r.Context(), claims.UserID)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SecurityQuestionsResponse{Questions: questions})
}

// Verify checks all three answers at once
// @Router /security-questions/verify [post]
func (h *SecurityQuestionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	var req VerifySecurityQuestionsRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	if err := h.service.Verify(r.Context(), claims.UserID, req.Answers); err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}
