package services

import "context"

// Embedder turns text into vectors.
type Embedder interface {
	// Embed returns one embedding per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	// Model names the model answers are attributed to.
	Model() string
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
