package mocks

import (
	"context"

	"github.com/tessera-labs/semdex/internal/core/domain"
)

// MockConnector is a canned-response Connector for testing
type MockConnector struct {
	SourceKind domain.SourceKind
	Documents  []*domain.Document
	Err        error
}

func (m *MockConnector) Kind() domain.SourceKind {
	return m.SourceKind
}

func (m *MockConnector) Fetch(ctx context.Context) ([]*domain.Document, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Documents, nil
}
