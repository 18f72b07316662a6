package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"comfy-cockpit/backend/internal/comfy"
	"comfy-cockpit/backend/internal/repository"
	"comfy-cockpit/backend/internal/workflow"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problem writes an RFC 7807 Problem Details JSON error response
func problem(c echo.Context, status int, title, detail string) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// domainError maps the typed validation and lookup errors onto HTTP problem
// responses. Anything unrecognized is a 500.
func domainError(c echo.Context, err error) error {
	var (
		notFound  *workflow.WorkflowNotFoundError
		missing   *workflow.MissingRequiredParamError
		coercion  *workflow.TypeCoercionError
		rangeErr  *workflow.RangeError
		choiceErr *workflow.InvalidChoiceError
		nodeErr   *workflow.UnknownNodeError
		pathErr   *workflow.InvalidFieldPathError
		manifest  *workflow.ManifestError
		preset    *workflow.PresetNotFoundError
		backend   *comfy.APIError
	)
	switch {
	case errors.As(err, &notFound):
		return problem(c, http.StatusNotFound, "Workflow Not Found", err.Error())
	case errors.Is(err, repository.ErrNotFound):
		return problem(c, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &missing):
		return problem(c, http.StatusBadRequest, "Missing Required Parameter", err.Error())
	case errors.As(err, &coercion):
		return problem(c, http.StatusBadRequest, "Invalid Parameter Type", err.Error())
	case errors.As(err, &rangeErr):
		return problem(c, http.StatusBadRequest, "Parameter Out Of Range", err.Error())
	case errors.As(err, &choiceErr):
		return problem(c, http.StatusBadRequest, "Invalid Parameter Choice", err.Error())
	case errors.As(err, &nodeErr), errors.As(err, &pathErr):
		return problem(c, http.StatusBadRequest, "Invalid Patch Target", err.Error())
	case errors.As(err, &preset):
		return problem(c, http.StatusBadRequest, "Preset Not Found", err.Error())
	case errors.As(err, &manifest):
		return problem(c, http.StatusBadRequest, "Invalid Manifest", err.Error())
	case errors.As(err, &backend):
		return problem(c, http.StatusBadGateway, "Image Backend Error", err.Error())
	default:
		return problem(c, http.StatusInternalServerError, "Internal Server Error", err.Error())
	}
}
