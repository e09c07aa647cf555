package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const RequestTypeTwitterAnalysis = "twitter_analysis"

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("twitter_handle", func(fl validator.FieldLevel) bool {
		return handlePattern.MatchString(fl.Field().String())
	})
	return v
}

type Requirements struct {
	Username    string `json:"username" validate:"required,twitter_handle"`
	RequestType string `json:"request_type" validate:"required,eq=twitter_analysis"`
}

// UnmarshalJSON accepts the username aliases agents send in the wild
// ("account", "user", "twitter_username") and strips a leading '@'.
func (r *Requirements) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Requirements{}
	for _, k := range []string{"username", "account", "user", "twitter_username"} {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			r.Username = strings.TrimPrefix(strings.TrimSpace(s), "@")
			break
		}
	}
	if s, ok := raw["request_type"].(string); ok {
		r.RequestType = strings.TrimSpace(s)
	}
	return nil
}

// Validate checks the requirements a seller needs to accept a job.
func (r Requirements) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	if fe.Field() == "RequestType" {
		field = "request_type"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "twitter_handle":
		return field + " must be 1-15 letters, digits or underscores"
	case "eq":
		return fmt.Sprintf("%s must be %q", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed on %s", field, fe.Tag())
	}
}

// ValidateStruct exposes the shared validator for DTOs at the HTTP boundary.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}
