// -----------------------------------------------------------------------
// Upload Sweeper - Removes orphaned upload blobs on a schedule
// -----------------------------------------------------------------------

package maintenance

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
)

// Sweeper periodically deletes upload blobs older than the configured
// max age. Finished jobs remove their own blob; what the sweeper finds
// is the residue of crashes and dropped messages. The max age must stay
// above the job deadline so a slow in-flight job never loses its file.
type Sweeper struct {
	cron     *cron.Cron
	dir      string
	maxAge   time.Duration
	schedule string
	logger   arbor.ILogger
}

// NewSweeper creates an upload sweeper from configuration.
func NewSweeper(cfg *common.UploadsConfig, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		cron:     cron.New(cron.WithSeconds()),
		dir:      cfg.Dir,
		maxAge:   cfg.MaxAgeDuration(),
		schedule: cfg.SweepSchedule,
		logger:   logger,
	}
}

// Start registers the sweep schedule and launches the cron runner.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()

	s.logger.Info().
		Str("dir", s.dir).
		Str("schedule", s.schedule).
		Dur("max_age", s.maxAge).
		Msg("Upload sweeper started")
	return nil
}

// Stop halts the cron runner, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep removes expired blobs. Exported so startup can run one pass
// before the first scheduled tick.
func (s *Sweeper) Sweep() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("dir", s.dir).Msg("Failed to read uploads directory")
		}
		return
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove orphaned blob")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Str("dir", s.dir).
			Msg("Swept orphaned upload blobs")
	}
}
