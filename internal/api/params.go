package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

func pathID(c echo.Context) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", c.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		return "", apperr.Validation("invalid format for parameter id: %v", err)
	}
	return id, nil
}

func queryString(c echo.Context, name string) (string, error) {
	var v string
	if err := runtime.BindQueryParameter("form", true, false, name, c.QueryParams(), &v); err != nil {
		return "", apperr.Validation("invalid format for parameter %s: %v", name, err)
	}
	return v, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	var v int
	if err := runtime.BindQueryParameter("form", true, false, name, c.QueryParams(), &v); err != nil {
		return 0, apperr.Validation("invalid format for parameter %s: %v", name, err)
	}
	return v, nil
}

// queryTaskStatuses reads repeated or comma separated status parameters.
func queryTaskStatuses(c echo.Context) ([]models.TaskStatus, error) {
	var raw []string
	if err := runtime.BindQueryParameter("form", true, false, "status", c.QueryParams(), &raw); err != nil {
		return nil, apperr.Validation("invalid format for parameter status: %v", err)
	}
	var out []models.TaskStatus
	for _, r := range raw {
		for _, s := range strings.FieldsFunc(r, isComma) {
			st, err := models.ParseTaskStatus(s)
			if err != nil {
				return nil, apperr.Validation("%v", err)
			}
			out = append(out, st)
		}
	}
	return out, nil
}

func isComma(r rune) bool { return r == ',' }

func queryFollowStatus(c echo.Context) (models.FollowStatus, error) {
	raw, err := queryString(c, "status")
	if err != nil || raw == "" {
		return "", err
	}
	st, err := models.ParseFollowStatus(raw)
	if err != nil {
		return "", apperr.Validation("%v", err)
	}
	return st, nil
}
