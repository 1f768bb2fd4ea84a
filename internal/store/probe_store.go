package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Conceptual-Machines/grammar-gateway/internal/models"
	"github.com/Conceptual-Machines/grammar-gateway/internal/probe"
)

const defaultListLimit = 20

// ProbeStore persists probe runs and their per-request results.
type ProbeStore struct {
	db *gorm.DB
}

// NewProbeStore creates a probe store on an open database handle.
func NewProbeStore(db *gorm.DB) *ProbeStore {
	return &ProbeStore{db: db}
}

// SaveReport persists one discovery report as a run with its result rows.
func (s *ProbeStore) SaveReport(report *probe.Report) (*models.ProbeRun, error) {
	encoded, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode discovery report: %w", err)
	}

	run := &models.ProbeRun{
		RunID:   uuid.New().String(),
		APIBase: report.APIBase,
		Models:  strings.Join(report.Models, ","),
		Formats: strings.Join(report.Formats, ","),
		Report:  string(encoded),
	}
	for _, result := range report.Results {
		run.Results = append(run.Results, models.ProbeResult{
			Model:     result.Model,
			Provider:  result.Provider,
			Format:    result.Format,
			Outcome:   string(result.Outcome),
			Detail:    result.Detail,
			LatencyMS: result.LatencyMS,
		})
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	}); err != nil {
		return nil, fmt.Errorf("save probe run: %w", err)
	}
	return run, nil
}

// ListRuns returns recent runs, newest first, without their result rows.
func (s *ProbeStore) ListRuns(limit int) ([]models.ProbeRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var runs []models.ProbeRun
	err := s.db.
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list probe runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its result rows by public run ID.
func (s *ProbeStore) GetRun(runID string) (*models.ProbeRun, error) {
	var run models.ProbeRun
	err := s.db.
		Preload("Results").
		Where("run_id = ?", runID).
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetReport decodes the stored discovery report of a run.
func (s *ProbeStore) GetReport(runID string) (*probe.Report, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	var report probe.Report
	if err := json.Unmarshal([]byte(run.Report), &report); err != nil {
		return nil, fmt.Errorf("decode stored report for run %s: %w", runID, err)
	}
	return &report, nil
}
