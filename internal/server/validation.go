package server

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"taskapi/internal/apperr"
	"taskapi/internal/models"
)

// fieldMessages holds the client-facing message for a failed field, keyed by
// JSON name, then by tag. The empty tag is the fallback for that field.
var fieldMessages = map[string]map[string]string{
	"title": {
		"required": "Title is required",
		"":         "Title must be between 3 and 100 characters",
	},
	"description": {"": "Description must not exceed 500 characters"},
	"dueDate":     {"": "Invalid date format"},
	"priority":    {"": "Priority must be High, Medium, or Low"},
	"status":      {"": "Status must be Pending or Completed"},
	"email":       {"": "A valid email address is required"},
	"password":    {"": "Password must be between 8 and 72 characters"},
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// An empty value passes so that an update can clear the due date.
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		raw := fl.Field().String()
		if raw == "" {
			return true
		}
		_, _, err := models.ParseDate(raw)
		return err == nil
	})
	return v
}

// check validates req and converts failures into a field-level error list.
func (s *Server) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fe.Field(), Message: messageFor(fe)})
	}
	return apperr.Invalid(fields...)
}

func messageFor(fe validator.FieldError) string {
	msgs, ok := fieldMessages[fe.Field()]
	if !ok {
		return fe.Error()
	}
	if msg, ok := msgs[fe.Tag()]; ok {
		return msg
	}
	return msgs[""]
}

func trimPtr(v *string) {
	if v != nil {
		*v = strings.TrimSpace(*v)
	}
}
