package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RichardoC/Pad-i/internal/models"
)

// ApologyMessage is stored as the assistant reply when no back end answered.
const ApologyMessage = "I'm having trouble connecting to the language model right now. Please try again in a moment."

// DefaultTimeout bounds a single attempt when a link does not set its own.
const DefaultTimeout = 60 * time.Second

// Link is one position in the fallback chain.
type Link struct {
	Backend Backend
	Timeout time.Duration
}

// Recorder receives one call per attempted back end. An empty class means
// success. RecordExhausted marks a reply served from the apology text.
type Recorder interface {
	RecordAttempt(backend string, duration time.Duration, class string)
	RecordExhausted()
}

type Failure struct {
	Backend  string
	Class    FailureClass
	Duration time.Duration
	Err      error
}

// Reply is the outcome of Respond. Backend is empty when Fallback is set.
type Reply struct {
	Text     string
	Backend  string
	Fallback bool
	Failures []Failure
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithApology(text string) Option {
	return func(s *Service) {
		if text = strings.TrimSpace(text); text != "" {
			s.apology = text
		}
	}
}

// Service walks the back-end chain in order and returns the first answer.
type Service struct {
	chain    []Link
	params   GenerationParams
	apology  string
	logger   *zap.Logger
	recorder Recorder
}

func New(chain []Link, params GenerationParams, opts ...Option) *Service {
	s := &Service{
		chain:    chain,
		params:   params,
		apology:  ApologyMessage,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Respond never fails: when every available back end fails, or none is
// available, the apology text is returned with Fallback set.
func (s *Service) Respond(ctx context.Context, window []models.ChatMessage, newMessage string) Reply {
	var failures []Failure

	for _, link := range s.chain {
		name := link.Backend.Name()
		if !link.Backend.Available() {
			s.logger.Debug("backend skipped", zap.String("backend", name), zap.Error(ErrNotConfigured))
			continue
		}

		start := time.Now()
		text, err := s.attempt(ctx, link, window, newMessage)
		elapsed := time.Since(start)

		if err == nil {
			s.recorder.RecordAttempt(name, elapsed, "")
			if len(failures) > 0 {
				s.logger.Info("backend answered after fallback",
					zap.String("backend", name),
					zap.Int("failed", len(failures)))
			}
			return Reply{Text: text, Backend: name, Failures: failures}
		}

		class := classify(err)
		s.recorder.RecordAttempt(name, elapsed, string(class))
		s.logger.Warn("backend attempt failed",
			zap.String("backend", name),
			zap.String("failure_class", string(class)),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		failures = append(failures, Failure{
			Backend:  name,
			Class:    class,
			Duration: elapsed,
			Err:      fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, name, err),
		})
	}

	s.recorder.RecordExhausted()
	s.logger.Error("backend chain exhausted", zap.Int("failed", len(failures)), zap.Int("configured", len(s.chain)))
	return Reply{Text: s.apology, Fallback: true, Failures: failures}
}

func (s *Service) attempt(ctx context.Context, link Link, window []models.ChatMessage, newMessage string) (string, error) {
	timeout := link.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := link.Backend.Attempt(ctx, window, newMessage, s.params)
	if err != nil {
		// Some clients swallow the deadline into their own error text.
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Backends reports each configured back end and whether it can be attempted.
func (s *Service) Backends() []BackendStatus {
	out := make([]BackendStatus, 0, len(s.chain))
	for _, link := range s.chain {
		timeout := link.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		out = append(out, BackendStatus{
			Name:      link.Backend.Name(),
			Available: link.Backend.Available(),
			Timeout:   timeout,
		})
	}
	return out
}

type BackendStatus struct {
	Name      string        `json:"name"`
	Available bool          `json:"available"`
	Timeout   time.Duration `json:"timeout_ns"`
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(string, time.Duration, string) {}

func (nopRecorder) RecordExhausted() {}
