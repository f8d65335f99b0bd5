// Package storage provides the data persistence layer for funnel sessions and sales.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/pinflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrEmptySlice        = errors.New("slice cannot be empty")
	ErrInvalidSession    = errors.New("invalid funnel session")
	ErrInvalidSale       = errors.New("invalid sale")
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateSession(session *model.FunnelSession) error {
	if session == nil {
		return fmt.Errorf("%w: session", ErrNilParameter)
	}
	if strings.TrimSpace(session.SUID) == "" {
		return fmt.Errorf("%w: missing suid", ErrInvalidSession)
	}
	if !session.Step.Valid() {
		return fmt.Errorf("%w: step %d", ErrInvalidSession, session.Step)
	}
	return nil
}

func validateSale(sale *model.Sale) error {
	if sale == nil {
		return fmt.Errorf("%w: sale", ErrNilParameter)
	}
	if strings.TrimSpace(sale.SUID) == "" {
		return fmt.Errorf("%w: missing suid", ErrInvalidSale)
	}
	if strings.TrimSpace(sale.MSISDN) == "" {
		return fmt.Errorf("%w: missing msisdn", ErrInvalidSale)
	}
	return nil
}
