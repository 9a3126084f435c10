package persistence

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// StoredSnapshot is a single historical snapshot row kept in the local rolling buffer, so that a short
// window of history survives a restart even though the core itself does not do time-series persistence
// (spec §1 Non-goals: "does not persist historical time-series beyond short rolling buffers").
type StoredSnapshot struct {
	gorm.Model
	Time              time.Time `gorm:"index"`
	CalculatedAt      time.Time
	WeatherAvgTemp    float64
	Package           string
	UploadAttemptCount int
}

// RollingBuffer stores recent snapshots in a local SQLite database, mirroring the teacher's repository
// pattern of "store locally first, upload later, track attempt counts".
type RollingBuffer struct {
	db *gorm.DB
}

// NewRollingBuffer opens (and migrates) the SQLite database at path.
func NewRollingBuffer(path string) (*RollingBuffer, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open rolling buffer database: %w", err)
	}
	if err := db.AutoMigrate(&StoredSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate rolling buffer database: %w", err)
	}
	return &RollingBuffer{db: db}, nil
}

// Store inserts a new snapshot row with upload_attempt_count reset to 0.
func (b *RollingBuffer) Store(snap Snapshot) error {
	row := StoredSnapshot{
		Time:           time.Now(),
		CalculatedAt:   snap.CalculatedAt,
		WeatherAvgTemp: snap.WeatherAvgTemp,
		Package:        snap.Package,
	}
	return b.db.Create(&row).Error
}

// Pending returns up to limit rows ordered by fewest upload attempts then most recent, for mirroring.
func (b *RollingBuffer) Pending(limit int) ([]StoredSnapshot, error) {
	var rows []StoredSnapshot
	result := b.db.Limit(limit).Order("upload_attempt_count asc, time desc").Find(&rows)
	return rows, result.Error
}

// IncrementUploadAttempts bumps the attempt counter for the given rows after a failed mirror attempt.
func (b *RollingBuffer) IncrementUploadAttempts(rows []StoredSnapshot) error {
	return b.db.Model(&rows).UpdateColumn("upload_attempt_count", gorm.Expr("upload_attempt_count + ?", 1)).Error
}

// Prune deletes rows older than olderThan, bounding the rolling buffer's size.
func (b *RollingBuffer) Prune(olderThan time.Time) error {
	return b.db.Where("time < ?", olderThan).Delete(&StoredSnapshot{}).Error
}
