package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const connIDKey contextKey = "conn_id"

// NewConnID generates a short random identifier for a client connection (16 hex chars).
func NewConnID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// WithConnID attaches a connection ID to ctx, generating one when id is empty.
func WithConnID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewConnID()
	}
	return context.WithValue(ctx, connIDKey, id)
}

// ConnID extracts the connection ID from ctx, or "" when absent.
func ConnID(ctx context.Context) string {
	if v, ok := ctx.Value(connIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns a component logger carrying the connection ID in ctx.
func FromContext(ctx context.Context, component string) *Logger {
	return New(component).WithConn(ConnID(ctx))
}
