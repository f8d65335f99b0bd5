// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Veraticus/pinflow/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Funnel session operations
	SaveFunnelSession(ctx context.Context, session *model.FunnelSession) error
	GetFunnelSession(ctx context.Context, suid string) (*model.FunnelSession, error)
	DeleteFunnelSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Sale ledger operations
	SaveSale(ctx context.Context, sale *model.Sale) error
	GetUnexportedSales(ctx context.Context, limit int) ([]model.Sale, error)
	MarkSalesExported(ctx context.Context, ids []int64, exportedAt time.Time) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// ConversionExporter pushes confirmed sales to an offline conversion sink.
type ConversionExporter interface {
	ExportConversions(ctx context.Context, sales []model.Sale) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Logger receives one warning per failed attempt. Defaults to slog.Default().
	Logger *slog.Logger
}
