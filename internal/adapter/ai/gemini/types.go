// Package gemini implements domain.CompletionClient over the Gemini generateContent API.
package gemini

import (
	"fmt"
	"strings"
	"time"
)

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	TopK             int     `json:"topK,omitempty"`
	TopP             float64 `json:"topP,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay,omitempty"`
		} `json:"details"`
	} `json:"error"`
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	// RetryDelay is the server hint from a RetryInfo detail; zero when absent.
	RetryDelay time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini status %d", e.StatusCode)
	}
	return fmt.Sprintf("gemini status %d: %s", e.StatusCode, e.Message)
}

// RateLimited reports whether the provider rejected the call with 429.
func (e *APIError) RateLimited() bool { return e.StatusCode == 429 }

func (env errorEnvelope) retryDelay() time.Duration {
	for _, d := range env.Error.Details {
		if strings.Contains(d.Type, "RetryInfo") {
			return ParseRetryDelay(d.RetryDelay)
		}
	}
	return 0
}

// maxRetryDelay caps server hints.
const maxRetryDelay = time.Hour

// ParseRetryDelay reads a hint such as "17s", "1.5s" or "250ms". A bare or
// suffixed leading integer is taken as seconds. Missing, zero, negative or
// unparsable hints return 0.
func ParseRetryDelay(s string) time.Duration {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0
		}
		return min(d, maxRetryDelay)
	}
	n := 0
	i := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > int(maxRetryDelay/time.Second) {
			n = int(maxRetryDelay / time.Second)
		}
	}
	if i == 0 || n == 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
