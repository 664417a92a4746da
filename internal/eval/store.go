package eval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RunRecord is one persisted eval run.
type RunRecord struct {
	ID          string `gorm:"primaryKey"`
	Model       string `gorm:"index"`
	Datasets    string
	StartedAt   time.Time
	DurationSec float64
	Accuracy    float64
	CreatedAt   time.Time
}

// SampleRecord is one persisted graded sample.
type SampleRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"index"`
	Dataset   string
	SampleID  string
	Category  string
	Expected  string
	Predicted string
	Correct   bool
	LatencyMs int64
}

// History stores eval runs in a local sqlite database.
type History struct {
	db *gorm.DB
}

// OpenHistory opens (and migrates) the history database at path.
func OpenHistory(path string) (*History, error) {
	if path == "" {
		return nil, fmt.Errorf("history path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RunRecord{}, &SampleRecord{}); err != nil {
		return nil, err
	}
	return &History{db: db}, nil
}

// SaveRun persists the report and its per-sample results.
func (h *History) SaveRun(rep *Report) error {
	names := make([]string, 0, len(rep.Datasets))
	for _, d := range rep.Datasets {
		names = append(names, d.Name)
	}
	run := RunRecord{
		ID:          rep.RunID,
		Model:       rep.Model,
		Datasets:    strings.Join(names, ","),
		StartedAt:   rep.StartedAt,
		DurationSec: rep.DurationSec,
		Accuracy:    rep.Accuracy,
	}
	return h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		for _, s := range rep.Samples {
			rec := SampleRecord{
				RunID:     rep.RunID,
				Dataset:   s.Dataset,
				SampleID:  s.SampleID,
				Category:  s.Category,
				Expected:  s.Expected,
				Predicted: s.Predicted,
				Correct:   s.Correct,
				LatencyMs: s.LatencyMs,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Runs returns the most recent runs, newest first.
func (h *History) Runs(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []RunRecord
	err := h.db.Order("started_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (h *History) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
