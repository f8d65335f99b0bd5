package sheets

import (
	"context"
	"sync"

	"github.com/Veraticus/pinflow/internal/model"
)

// MockExporter records exported sales for tests.
type MockExporter struct {
	ExportFunc func(ctx context.Context, sales []model.Sale) error
	Calls      [][]model.Sale
	mu         sync.Mutex
}

// NewMockExporter creates a new mock exporter.
func NewMockExporter() *MockExporter {
	return &MockExporter{}
}

// ExportConversions records the call and delegates to ExportFunc when set.
func (m *MockExporter) ExportConversions(ctx context.Context, sales []model.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, append([]model.Sale(nil), sales...))
	if m.ExportFunc != nil {
		return m.ExportFunc(ctx, sales)
	}
	return nil
}

// Exported returns every sale passed so far.
func (m *MockExporter) Exported() []model.Sale {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []model.Sale
	for _, c := range m.Calls {
		all = append(all, c...)
	}
	return all
}
