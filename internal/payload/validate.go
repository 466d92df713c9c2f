// Package payload validates inbound telemetry bodies and reduces their
// camelCase/snake_case dialects to a canonical model.EventInput.
package payload

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ashita-ai/kiroku/internal/model"
)

// MaxEventLen bounds the event kind tag.
const MaxEventLen = 128

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Errors []model.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "payload: validation failed"
	}
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Field + ": " + fe.Message
	}
	return "payload: validation failed: " + strings.Join(msgs, "; ")
}

// wireEvent is the projection of a body the struct validator checks.
// Type mismatches are reported before this stage.
type wireEvent struct {
	Event     string         `json:"event" validate:"required,max=128"`
	Timestamp string         `json:"timestamp" validate:"required,rfc3339"`
	Data      map[string]any `json:"data" validate:"required"`
}

// optionalStrings are top-level keys that must be strings when present.
var optionalStrings = []string{
	"serverId", "server_id",
	"version",
	"sessionId", "session_id",
	"userId", "user_id",
}

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("rfc3339", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(time.RFC3339, fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks a decoded body. It returns nil or a *ValidationError
// listing every failing field, sorted by field name.
func Validate(body map[string]any) error {
	var errs []model.FieldError
	add := func(field, msg string) {
		errs = append(errs, model.FieldError{Field: field, Message: msg})
	}

	var w wireEvent
	typeFailed := map[string]bool{}

	if v, ok := present(body, "event"); ok {
		if s, isStr := v.(string); isStr {
			w.Event = s
		} else {
			add("event", "event must be a string")
			typeFailed["event"] = true
		}
	}
	if v, ok := present(body, "timestamp"); ok {
		if s, isStr := v.(string); isStr {
			w.Timestamp = s
		} else {
			add("timestamp", "timestamp must be a string")
			typeFailed["timestamp"] = true
		}
	}
	if v, ok := present(body, "data"); ok {
		if m, isObj := v.(map[string]any); isObj {
			w.Data = m
		} else {
			add("data", "data must be an object")
			typeFailed["data"] = true
		}
	}

	for _, key := range optionalStrings {
		if v, ok := present(body, key); ok {
			if _, isStr := v.(string); !isStr {
				add(key, key+" must be a string")
			}
		}
	}
	if v, ok := present(body, "session"); ok {
		switch v.(type) {
		case string, map[string]any:
		default:
			add("session", "session must be a string or an object")
		}
	}

	if err := getValidator().Struct(&w); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("payload: validate: %w", err)
		}
		for _, fe := range verrs {
			if typeFailed[fe.Field()] {
				continue
			}
			add(fe.Field(), translate(fe))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return &ValidationError{Errors: errs}
}

// present reports whether key exists with a non-null value.
func present(body map[string]any, key string) (any, bool) {
	v, ok := body[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func translate(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "rfc3339":
		return field + " must be an ISO-8601 date-time with time zone"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
