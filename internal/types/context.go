package types

import "context"

type contextKey string

const runIDKey contextKey = "run_id"

// WithRunID tags the context with the correlation id of one ingestion run
// (a scheduled batch or one consumed event).
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// GetRunID returns the run correlation id, or "".
func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}
