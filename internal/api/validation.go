package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// slot names end up inside cache keys and glob patterns
const reservedSlotChars = ":*?[]\\"

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

var registerOnce sync.Once

// RegisterValidators adds the custom binding tags to gin's validator. Safe to
// call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("slotname", validSlotName)
	})
}

func validSlotName(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if s == "" {
		// emptiness is the job of required
		return true
	}
	return !strings.ContainsAny(s, reservedSlotChars)
}

// ValidationErrors flattens a binding error into per-field messages.
func ValidationErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: message(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min", "gte":
		return fe.Field() + " must be at least " + fe.Param()
	case "max", "lte":
		return fe.Field() + " must be at most " + fe.Param()
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	case "url":
		return fe.Field() + " must be a valid URL"
	case "slotname":
		return fe.Field() + " must not contain any of " + reservedSlotChars
	default:
		return fe.Field() + " is invalid"
	}
}

// RespondBindError writes a 400 for a failed ShouldBind call.
func RespondBindError(c *gin.Context, err error) {
	details := ValidationErrors(err)
	if len(details) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation failed",
		"details": details,
	})
}
