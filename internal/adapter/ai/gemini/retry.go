package gemini

import (
	"fmt"
	"time"
)

// Phase is the state of one Complete call.
type Phase int

const (
	PhaseAttempting Phase = iota
	PhaseSuccess
	PhaseDowngraded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseAttempting:
		return "attempting"
	case PhaseSuccess:
		return "success"
	case PhaseDowngraded:
		return "downgraded"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// RetryPolicy holds the immutable knobs of the retry state machine.
type RetryPolicy struct {
	TextModel      string
	MaxAttempts    int
	InitialDelay   time.Duration
	DowngradeDelay time.Duration
}

// RetryState is the value threaded through Next. Transitions never mutate their input.
type RetryState struct {
	Phase        Phase
	Model        string
	AttemptsLeft int
	Attempts     int
	Delay        time.Duration
	Attempted    []string
	// Wait is how long to suspend before the next attempt.
	Wait time.Duration
	// Text is set in PhaseSuccess.
	Text string
	// Reason and Cause are set in PhaseFailed.
	Reason string
	Cause  error
}

// AttemptOutcome describes one finished provider attempt.
type AttemptOutcome struct {
	Text string
	// Err is nil on success.
	Err error
	// RateLimited is true for a 429 response.
	RateLimited bool
	RetryAfter  time.Duration
	// Remaining is the time left before the caller's deadline; zero means no deadline.
	Remaining time.Duration
}

// Start returns the initial state for model.
func (p RetryPolicy) Start(model string) RetryState {
	return RetryState{
		Phase:        PhaseAttempting,
		Model:        model,
		AttemptsLeft: p.MaxAttempts,
		Delay:        p.InitialDelay,
		Attempted:    []string{model},
	}
}

// Next applies an attempt outcome. Every failed attempt consumes one unit of budget,
// including the one that triggers a downgrade.
func (p RetryPolicy) Next(s RetryState, o AttemptOutcome) RetryState {
	s.Attempted = append([]string(nil), s.Attempted...)
	s.Attempts++
	s.Wait = 0

	if o.Err == nil {
		s.Phase = PhaseSuccess
		s.Text = o.Text
		return s
	}

	s.AttemptsLeft--
	if !o.RateLimited {
		s.Phase = PhaseFailed
		s.Reason = o.Err.Error()
		s.Cause = o.Err
		return s
	}
	if s.AttemptsLeft <= 0 {
		s.Phase = PhaseFailed
		s.Reason = fmt.Sprintf("rate limited: retries exhausted after %d attempts (model=%s): %v", s.Attempts, s.Model, o.Err)
		s.Cause = o.Err
		return s
	}
	if p.canDowngrade(s) {
		s.Phase = PhaseDowngraded
		s.Model = p.TextModel
		s.Attempted = append(s.Attempted, p.TextModel)
		s.Wait = o.RetryAfter
		if s.Wait <= 0 {
			s.Wait = p.DowngradeDelay
		}
		return exceedsDeadline(s, o)
	}
	s.Phase = PhaseAttempting
	s.Wait = o.RetryAfter
	if s.Wait <= 0 {
		s.Wait = s.Delay
	}
	s.Delay *= 2
	return exceedsDeadline(s, o)
}

// exceedsDeadline fails s when its wait would outlast the caller's deadline.
func exceedsDeadline(s RetryState, o AttemptOutcome) RetryState {
	if o.Remaining <= 0 || s.Wait < o.Remaining {
		return s
	}
	s.Phase = PhaseFailed
	s.Reason = fmt.Sprintf("rate limited: retries exhausted after %d attempts (model=%s): retry in %s exceeds remaining %s: %v",
		s.Attempts, s.Model, s.Wait, o.Remaining.Round(time.Millisecond), o.Err)
	s.Cause = o.Err
	s.Wait = 0
	return s
}

func (p RetryPolicy) canDowngrade(s RetryState) bool {
	if p.TextModel == "" || s.Model == p.TextModel {
		return false
	}
	for _, m := range s.Attempted {
		if m == p.TextModel {
			return false
		}
	}
	return true
}

// Terminal reports whether no further attempt should be made.
func (s RetryState) Terminal() bool {
	return s.Phase == PhaseSuccess || s.Phase == PhaseFailed
}
