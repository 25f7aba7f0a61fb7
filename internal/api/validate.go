package api

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/aozora-works/kousei-engine/internal/registry"
)

// MaxPromptChars is the hard ceiling on prompt length. Requests over it are
// rejected at the boundary, before any engine work begins.
const MaxPromptChars = 100_000

var validate = validator.New()

func init() {
	validate.RegisterValidation("known_model", validateKnownModel)
}

// validateKnownModel checks the id resolves in the catalog.
func validateKnownModel(fl validator.FieldLevel) bool {
	return registry.Exists(fl.Field().String())
}

// modelIDParam wraps a path parameter so it runs through the same validator
// as request bodies.
type modelIDParam struct {
	ID string `validate:"required,known_model"`
}

// promptRule is built from MaxPromptChars so the validator rule and the
// constant cannot drift apart.
var promptRule = fmt.Sprintf("required,max=%d", MaxPromptChars)

func checkModelID(id string) error {
	if err := validate.Struct(modelIDParam{ID: id}); err != nil {
		return describeValidationError(err, map[string]string{
			"required":    "model id must not be empty",
			"known_model": fmt.Sprintf("unknown model id: %s", id),
		})
	}
	return nil
}

// checkInfer validates an inference request at the boundary. MaxTokens is
// only checked for sign; the engine clamps it into range rather than
// trusting it. Zero means "use the default bound".
func checkInfer(prompt string, maxTokens int) error {
	if err := validate.Var(prompt, promptRule); err != nil {
		return describeValidationError(err, map[string]string{
			"required": "prompt must not be empty",
			"max":      fmt.Sprintf("prompt exceeds %d characters", MaxPromptChars),
		})
	}
	if err := validate.Var(maxTokens, "gte=0"); err != nil {
		return describeValidationError(err, map[string]string{
			"gte": "max_tokens must not be negative",
		})
	}
	return nil
}

func describeValidationError(err error, messages map[string]string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	for _, fe := range verrs {
		if msg, ok := messages[fe.Tag()]; ok {
			return fmt.Errorf("%s", msg)
		}
	}
	return err
}
