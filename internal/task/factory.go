package task

import (
	"context"
	"strings"
)

// NewBindingStore creates a postgres-backed store when configured, otherwise in-memory.
func NewBindingStore(ctx context.Context, databaseURL string) (BindingStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryBindingStore(), nil
	}
	return NewPostgresBindingStore(ctx, databaseURL)
}
