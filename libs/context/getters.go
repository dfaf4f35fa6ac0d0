package context

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// GetStringFromContext - given a CTXKey return the string value from the context if it exists
func GetStringFromContext(ctx context.Context, key CTXKey) (string, error) {
	v := ctx.Value(key)
	if v == nil {
		return "", fmt.Errorf("failed to get %s: %w", key, ErrNotInContext)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("failed to get %s: %w", key, ErrValueWrongType)
	}
	return s, nil
}

// GetBoolFromContext - given a CTXKey return the bool value from the context if it exists
func GetBoolFromContext(ctx context.Context, key CTXKey) (bool, error) {
	v := ctx.Value(key)
	if v == nil {
		return false, fmt.Errorf("failed to get %s: %w", key, ErrNotInContext)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("failed to get %s: %w", key, ErrValueWrongType)
	}
	return b, nil
}

// GetLogLevelFromContext - given a CTXKey return the zerolog.Level value from the context if it exists
func GetLogLevelFromContext(ctx context.Context, key CTXKey) (zerolog.Level, error) {
	v := ctx.Value(key)
	if v == nil {
		return zerolog.InfoLevel, fmt.Errorf("failed to get %s: %w", key, ErrNotInContext)
	}
	l, ok := v.(zerolog.Level)
	if !ok {
		return zerolog.InfoLevel, fmt.Errorf("failed to get %s: %w", key, ErrValueWrongType)
	}
	return l, nil
}

// GetLogger - return the logger value from the context if it exists
func GetLogger(ctx context.Context) (*zerolog.Logger, error) {
	if logger, ok := ctx.Value(LoggerCTXKey).(*zerolog.Logger); ok {
		return logger, nil
	}
	// zerolog stores the logger on the context under its own key
	if logger := zerolog.Ctx(ctx); logger != nil && logger.GetLevel() != zerolog.Disabled {
		return logger, nil
	}
	return nil, fmt.Errorf("failed to get logger: %w", ErrNotInContext)
}
