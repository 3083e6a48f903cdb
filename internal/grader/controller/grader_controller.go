// Package controller serves the grader HTTP API.
package controller

import (
	"strings"

	"academyjudge/internal/grader/service"
	appErr "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// GraderController handles submission HTTP endpoints.
type GraderController struct {
	grader *service.GraderService
}

// NewGraderController creates a new GraderController.
func NewGraderController(grader *service.GraderService) *GraderController {
	return &GraderController{grader: grader}
}

// RunRequest defines the run payload.
type RunRequest struct {
	Code     string  `json:"code" binding:"required"`
	Language string  `json:"language" binding:"required"`
	Input    *string `json:"input"`
}

// SubmitRequest defines the submit and grade payload.
type SubmitRequest struct {
	QuestionID int64  `json:"questionId" binding:"required,gt=0"`
	Code       string `json:"code" binding:"required"`
	Language   string `json:"language" binding:"required"`
}

// LanguagesResponse lists supported language ids.
type LanguagesResponse struct {
	Languages []string `json:"languages"`
}

// Run executes code once with optional input.
func (h *GraderController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	language := normalizeLanguage(req.Language)
	if !h.grader.Supports(language) {
		response.Error(c, appErr.UnsupportedLanguage(language))
		return
	}
	out := h.grader.RunCode(c.Request.Context(), service.RunInput{
		Code:     req.Code,
		Language: language,
		Input:    req.Input,
	})
	response.Success(c, out)
}

// Submit runs code against the question's test cases.
func (h *GraderController) Submit(c *gin.Context) {
	in, ok := h.bindSubmit(c)
	if !ok {
		return
	}
	out, err := h.grader.SubmitSolution(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// Grade runs code against the question's test cases and awards marks.
func (h *GraderController) Grade(c *gin.Context) {
	in, ok := h.bindSubmit(c)
	if !ok {
		return
	}
	out, err := h.grader.GradeSubmission(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// Languages returns the supported language ids.
func (h *GraderController) Languages(c *gin.Context) {
	response.Success(c, LanguagesResponse{Languages: h.grader.Languages()})
}

func (h *GraderController) bindSubmit(c *gin.Context) (service.SubmitInput, bool) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return service.SubmitInput{}, false
	}
	language := normalizeLanguage(req.Language)
	if !h.grader.Supports(language) {
		response.Error(c, appErr.UnsupportedLanguage(language))
		return service.SubmitInput{}, false
	}
	return service.SubmitInput{QuestionID: req.QuestionID, Code: req.Code, Language: language}, true
}

func normalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}
