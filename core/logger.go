package core

import "context"

// Logger logs messages with optional args.
// Expected args: error, map[string]interface{}, or a user value identifying the logged in person.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// EventPublisher publishes domain events; key groups events of the same aggregate.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}, key string) error
}
