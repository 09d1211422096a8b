package httpserver

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/clinical-pilot/internal/domain"
	"github.com/fairyhunter13/clinical-pilot/pkg/textx"
)

type chatRequest struct {
	Message        string `json:"message" validate:"required,max=8000"`
	ConversationID string `json:"conversationId" validate:"omitempty,max=64"`
	ImageURL       string `json:"imageUrl" validate:"omitempty,max=2048"`
}

type renameRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// validateStruct returns a field->tag map describing validation failures.
func validateStruct(v interface{}) (map[string]string, error) {
	err := getValidator().Struct(v)
	if err == nil {
		return nil, nil
	}
	verrs := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument)
}

// normalize strips control characters before validation so whitespace-only input is rejected.
func (c *chatRequest) normalize() {
	c.Message = textx.SanitizeText(c.Message)
	c.ConversationID = strings.TrimSpace(c.ConversationID)
	c.ImageURL = strings.TrimSpace(c.ImageURL)
}

func (rr *renameRequest) normalize() {
	rr.Title = textx.SanitizeText(rr.Title)
}
