package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

// Validator adapts validator/v10 to echo.Validator. Failures come back as
// validation errors naming the offending fields.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate implements echo.Validator.
func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation("%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "uuid":
		return field + " must be a UUID"
	default:
		return fmt.Sprintf("%s failed %q", field, fe.Tag())
	}
}

// problemFor converts any handler error into an RFC 7807 document.
func problemFor(err error, path string) models.ProblemDetails {
	problem := models.ProblemDetails{
		Type:     "about:blank",
		Status:   http.StatusInternalServerError,
		Detail:   "internal server error",
		Instance: path,
		Code:     string(apperr.KindInternal),
	}

	var he *echo.HTTPError
	if e, ok := apperr.As(err); ok {
		problem.Status = e.HTTPStatus()
		problem.Code = string(e.Kind)
		problem.Retryable = e.Retryable
		if e.Kind != apperr.KindInternal {
			problem.Detail = e.Message
		}
	} else if errors.As(err, &he) {
		problem.Status = he.Code
		problem.Detail = fmt.Sprint(he.Message)
		problem.Code = codeForStatus(he.Code)
	}
	problem.Title = http.StatusText(problem.Status)
	return problem
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return string(apperr.KindValidation)
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return string(apperr.KindNotFound)
	case http.StatusUnauthorized:
		return string(apperr.KindUnauthorized)
	case http.StatusForbidden:
		return string(apperr.KindForbidden)
	case http.StatusServiceUnavailable:
		return string(apperr.KindUnavailable)
	default:
		return string(apperr.KindInternal)
	}
}

// ErrorHandler returns an echo.HTTPErrorHandler that renders problem details.
// Server errors are logged with their cause; client errors are not.
func ErrorHandler(logger Logger) echo.HTTPErrorHandler {
	if logger == nil {
		logger = nopLogger{}
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		req := c.Request()
		problem := problemFor(err, req.URL.Path)
		problem.TraceID = c.Response().Header().Get(echo.HeaderXRequestID)
		if problem.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "status", problem.Status, "error", err)
		}

		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		if req.Method == http.MethodHead {
			err = c.NoContent(problem.Status)
		} else {
			err = c.JSON(problem.Status, problem)
		}
		if err != nil {
			logger.Warn("failed to write error response", "error", err)
		}
	}
}
