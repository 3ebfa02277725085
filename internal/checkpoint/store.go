package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/infra/logger"
)

const FileName = "download_progress.json"

// Checkpoint is the on-disk record of work still outstanding for one job.
type Checkpoint struct {
	URL              string   `json:"url"`
	RemainingTargets []string `json:"remainingTargets"`
	Timestamp        string   `json:"timestamp"`
}

// SavedAt parses the timestamp, returning the zero time if it is malformed.
func (cp *Checkpoint) SavedAt() time.Time {
	t, _ := time.Parse(time.RFC3339, cp.Timestamp)
	return t
}

// Store persists a single checkpoint file inside an output directory.
type Store struct {
	dir       string
	log       logger.Reporter
	confirmer Confirmer
	now       func() time.Time
}

type Option func(*Store)

func WithConfirmer(c Confirmer) Option {
	return func(s *Store) { s.confirmer = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(dir string, log logger.Reporter, opts ...Option) *Store {
	s := &Store{
		dir:       dir,
		log:       log,
		confirmer: NewStdinConfirmer(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Save replaces the checkpoint with the given remaining targets.
func (s *Store) Save(url string, remaining []string) error {
	if remaining == nil {
		remaining = []string{}
	}
	cp := Checkpoint{
		URL:              url,
		RemainingTargets: remaining,
		Timestamp:        s.now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", domain.ErrCheckpointSave, err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: create dir: %v", domain.ErrCheckpointSave, err)
	}

	path := s.Path()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("%w: write temp file: %v", domain.ErrCheckpointSave, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: rename: %v", domain.ErrCheckpointSave, err)
	}

	s.log.Debug("Checkpoint saved: %d targets remaining", len(remaining))
	return nil
}

// Load returns the checkpoint if it belongs to url and still has work in it.
func (s *Store) Load(url string) (*Checkpoint, bool) {
	cp, err := s.read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("Ignoring checkpoint %s: %v", s.Path(), err)
		}
		return nil, false
	}

	if cp.URL != url {
		s.log.Debug("Checkpoint belongs to %s, not %s", cp.URL, url)
		return nil, false
	}
	if len(cp.RemainingTargets) == 0 {
		return nil, false
	}
	return cp, true
}

func (s *Store) read() (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptCheckpoint, err)
	}
	return &cp, nil
}

// CheckAndResume decides whether a matching checkpoint should be resumed.
// With autoResume set the confirmer is never consulted.
func (s *Store) CheckAndResume(url string, autoResume bool) (*Checkpoint, bool) {
	cp, ok := s.Load(url)
	if !ok {
		return nil, false
	}

	if autoResume {
		s.log.Info("Resuming %d remaining targets from %s", len(cp.RemainingTargets), cp.Timestamp)
		return cp, true
	}

	prompt := fmt.Sprintf("Found unfinished download from %s with %d targets remaining. Resume?", cp.Timestamp, len(cp.RemainingTargets))
	if !s.confirmer.Confirm(prompt) {
		s.log.Info("Starting fresh, checkpoint will be replaced")
		return nil, false
	}
	return cp, true
}

// Delete removes the checkpoint file. A missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove checkpoint: %v", domain.ErrFilesystem, err)
	}
	return nil
}
