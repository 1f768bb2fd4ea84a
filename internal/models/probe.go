package models

import (
	"time"

	"gorm.io/gorm"
)

// ProbeRun is one persisted grammar-probe run: the inputs, the rendered
// report, and the per-request results.
type ProbeRun struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	RunID     string         `gorm:"uniqueIndex;not null" json:"run_id"`
	APIBase   string         `gorm:"not null" json:"api_base"`
	Models    string         `gorm:"type:text" json:"models"`  // comma-separated model IDs
	Formats   string         `gorm:"type:text" json:"formats"` // comma-separated dialects
	Report    string         `gorm:"type:text" json:"-"`       // full report JSON
	Results   []ProbeResult  `gorm:"foreignKey:ProbeRunID" json:"results,omitempty"`
}

// ProbeResult is one (model, provider, format) outcome row of a run.
type ProbeResult struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ProbeRunID uint      `gorm:"not null;index" json:"probe_run_id"`
	Model      string    `gorm:"not null;index" json:"model"`
	Provider   string    `gorm:"not null;index" json:"provider"`
	Format     string    `gorm:"not null" json:"format"`
	Outcome    string    `gorm:"not null;index" json:"outcome"` // "reject", "obey", "ignore"
	Detail     string    `gorm:"type:text" json:"detail,omitempty"`
	LatencyMS  int64     `gorm:"not null" json:"latency_ms"`
}
