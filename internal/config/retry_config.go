package config

import (
	"time"
)

// GeminiSettings is the immutable provider configuration handed to the Gemini client.
type GeminiSettings struct {
	APIKey         string
	BaseURL        string
	TextModel      string
	VisionModel    string
	TestModel      string
	RequestTimeout time.Duration
	// MaxAttempts is the total attempt budget shared by backoff and downgrade.
	MaxAttempts      int
	BackoffInitial   time.Duration
	DowngradeDelay   time.Duration
	Temperature      float64
	MaxOutputTokens  int
	TopK             int
	TopP             float64
	ResponseMimeType string
}

// GeminiSettings returns provider settings appropriate for the current environment.
// In test environments waits are shortened for faster test execution.
func (c Config) GeminiSettings() GeminiSettings {
	s := GeminiSettings{
		APIKey:           c.GeminiAPIKey,
		BaseURL:          c.GeminiBaseURL,
		TextModel:        c.GeminiTextModel,
		VisionModel:      c.GeminiVisionModel,
		TestModel:        c.GeminiTestModel,
		RequestTimeout:   c.GeminiRequestTimeout,
		MaxAttempts:      c.GeminiMaxAttempts,
		BackoffInitial:   c.GeminiBackoffInitial,
		DowngradeDelay:   c.GeminiDowngradeDelay,
		Temperature:      0.3,
		MaxOutputTokens:  1024,
		TopK:             40,
		TopP:             0.9,
		ResponseMimeType: "text/plain",
	}
	if c.IsTest() {
		s.BackoffInitial = 10 * time.Millisecond
		s.DowngradeDelay = 10 * time.Millisecond
	}
	return s
}

// PubMedSettings configures the E-utilities client.
type PubMedSettings struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxResults int
	// Backoff for 429/5xx responses.
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// PubMedSettings returns E-utilities settings; tests get short backoff windows.
func (c Config) PubMedSettings() PubMedSettings {
	s := PubMedSettings{
		BaseURL:         c.PubMedBaseURL,
		APIKey:          c.PubMedAPIKey,
		Timeout:         c.PubMedTimeout,
		MaxResults:      c.PubMedMaxResults,
		MaxElapsedTime:  15 * time.Second,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     4 * time.Second,
		Multiplier:      2.0,
	}
	if c.IsTest() {
		s.MaxElapsedTime = time.Second
		s.InitialInterval = 10 * time.Millisecond
		s.MaxInterval = 50 * time.Millisecond
	}
	return s
}
