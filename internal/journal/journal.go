// Package journal records runs and their frames in a SQLite database so a
// timelapse can be audited after the fact.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/logic/capture"
)

// Run is one timelapse invocation.
type Run struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	Name       string     `gorm:"column:name" json:"name"`
	Location   string     `gorm:"column:location" json:"location"`
	Samples    int        `gorm:"column:samples" json:"samples"`
	IntervalMs int64      `gorm:"column:interval_ms" json:"interval_ms"`
	State      string     `gorm:"column:state" json:"state"`
	Frames     int        `gorm:"column:frames" json:"frames"`
	Error      string     `gorm:"column:error" json:"error,omitempty"`
	StartedAt  time.Time  `gorm:"column:started_at" json:"started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// Frame is one persisted image.
type Frame struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	RunID      string         `gorm:"column:run_id;index" json:"run_id"`
	Timepoint  int            `gorm:"column:timepoint" json:"timepoint"`
	Path       string         `gorm:"column:path" json:"path"`
	SizeBytes  int64          `gorm:"column:size_bytes" json:"size_bytes"`
	CapturedAt time.Time      `gorm:"column:captured_at" json:"captured_at"`
	Metadata   map[string]any `gorm:"column:metadata;serializer:json" json:"metadata,omitempty"`
}

// ErrNotFound is returned by Run for an unknown id.
var ErrNotFound = errors.New("run not found")

// Journal is the database handle.
type Journal struct {
	db *gorm.DB
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Run{}, &Frame{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	debug.Verbose("Journal: %s", path)
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Runs returns the most recent runs first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	q := j.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Run returns one run by id.
func (j *Journal) Run(ctx context.Context, id string) (*Run, error) {
	var r Run
	err := j.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// Frames returns the frames of a run in timepoint order.
func (j *Journal) Frames(ctx context.Context, runID string) ([]Frame, error) {
	var frames []Frame
	if err := j.db.WithContext(ctx).Where("run_id = ?", runID).Order("timepoint").Find(&frames).Error; err != nil {
		return nil, fmt.Errorf("list frames of %s: %w", runID, err)
	}
	return frames, nil
}

// Recorder returns an observer that writes the events of run id to the
// journal. Write failures are logged and do not stop the run.
func (j *Journal) Recorder(id, name string) capture.Observer {
	return &recorder{db: j.db, id: id, name: name}
}

type recorder struct {
	db   *gorm.DB
	id   string
	name string
}

func (r *recorder) Observe(e capture.Event) {
	if err := r.record(e); err != nil {
		debug.Error(fmt.Errorf("journal: %w", err))
	}
}

func (r *recorder) record(e capture.Event) error {
	switch e.Type {
	case capture.EventStarted:
		return r.db.Create(&Run{
			ID:         r.id,
			Name:       r.name,
			Location:   e.Location,
			Samples:    e.Samples,
			IntervalMs: e.Interval.Milliseconds(),
			State:      capture.StateIdle.String(),
			StartedAt:  e.At,
		}).Error

	case capture.EventState:
		return r.db.Model(&Run{ID: r.id}).Update("state", e.State.String()).Error

	case capture.EventFrame:
		return r.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&Frame{
				RunID:      r.id,
				Timepoint:  e.Timepoint,
				Path:       e.Frame.Path,
				SizeBytes:  e.Frame.Size,
				CapturedAt: e.Frame.At,
				Metadata:   e.Frame.Metadata,
			}).Error; err != nil {
				return err
			}
			return tx.Model(&Run{ID: r.id}).Update("frames", gorm.Expr("frames + 1")).Error
		})

	case capture.EventFinished:
		updates := map[string]any{"finished_at": e.At}
		if e.Err != nil {
			updates["error"] = e.Err.Error()
		}
		// Runs rejected before EventStarted have no row yet.
		res := r.db.Model(&Run{ID: r.id}).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.db.Create(&Run{
				ID:         r.id,
				Name:       r.name,
				Location:   e.Location,
				Samples:    e.Samples,
				State:      capture.StateStopped.String(),
				Error:      errString(e.Err),
				StartedAt:  e.At,
				FinishedAt: &e.At,
			}).Error
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
