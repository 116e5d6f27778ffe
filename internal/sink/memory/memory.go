// Package memory keeps delivered rows in process. It backs local runs and
// tests that need a sink without external services.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/model"
)

type Sink struct {
	rows     []model.Row
	mu       sync.RWMutex
	dumpPath string
	logger   *zap.SugaredLogger
}

// New returns an empty sink. When dumpPath is set, Close writes the held rows there as JSON.
func New(dumpPath string, logger *zap.SugaredLogger) *Sink {
	return &Sink{dumpPath: dumpPath, logger: logger}
}

func (s *Sink) Name() string { return "memory" }

func (s *Sink) Describe() map[string]any {
	return map[string]any{"rows_held": s.Len(), "dump_file": s.dumpPath}
}

// Deliver appends all rows. It never fails.
func (s *Sink) Deliver(ctx context.Context, rows []model.Row) (model.DeliverySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = append(s.rows, rows...)
	return model.DeliverySummary{RecordsSent: len(rows)}, nil
}

// Rows returns a copy of everything delivered so far.
func (s *Sink) Rows() []model.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Row, len(s.rows))
	copy(result, s.rows)
	return result
}

func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *Sink) Close() error {
	if s.dumpPath == "" {
		return nil
	}
	return s.SaveToFile(s.dumpPath)
}

// SaveToFile writes the held rows to filePath. Nothing is written when the sink is empty.
func (s *Sink) SaveToFile(filePath string) error {
	rows := s.Rows()
	if len(rows) == 0 {
		return nil
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Infof("saved %d rows to %s", len(rows), filePath)
	return nil
}
