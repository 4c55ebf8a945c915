package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"planmonitor/internal/fsutil"
)

const (
	filePrefix      = "session_"
	timestampLayout = "20060102_150405"
)

// DefaultRetention is how many checkpoints per session survive compaction.
const DefaultRetention = 50

var (
	// Remainder of a file name after "session_<id>_".
	suffixPattern = regexp.MustCompile(`^(\d{8}_\d{6})(?:-(\d+))?\.json$`)
	unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Checkpoint is a checksum-verified snapshot of monitor session state.
type Checkpoint struct {
	TakenAt   time.Time       `json:"taken_at"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
	Checksum  string          `json:"checksum"`
}

// Decode unmarshals the payload into v.
func (c *Checkpoint) Decode(v any) error {
	return json.Unmarshal(c.Payload, v)
}

// Verify recomputes the digest over the canonical payload.
func (c *Checkpoint) Verify() error {
	sum, err := Checksum(c.Payload)
	if err != nil {
		return err
	}
	if sum != c.Checksum {
		return fmt.Errorf("checksum mismatch: stored %s, computed %s", short(c.Checksum), short(sum))
	}
	return nil
}

// Store writes one file per checkpoint under Dir.
type Store struct {
	Dir       string
	Retention int

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for file names and taken_at.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithRetention sets how many checkpoints per session are kept. Zero or
// less disables compaction.
func WithRetention(n int) Option {
	return func(s *Store) { s.Retention = n }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		Dir:       dir,
		Retention: DefaultRetention,
		now:       time.Now,
		logger:    slog.Default().With("component", "checkpoint"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes a new checkpoint for sessionID and compacts old ones.
func (s *Store) Save(sessionID string, payload any) (*Checkpoint, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	canonical, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Round(0)
	cp := &Checkpoint{
		TakenAt:   now,
		SessionID: sessionID,
		Payload:   canonical,
		Checksum:  Digest(canonical),
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure checkpoint dir: %w", err)
	}
	path := s.uniquePath(sessionID, now)
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}

	if s.Retention > 0 {
		if removed, err := s.Prune(sessionID, s.Retention); err != nil {
			s.logger.Warn("checkpoint compaction failed", "session_id", sessionID, "error", err)
		} else if removed > 0 {
			s.logger.Debug("compacted checkpoints", "session_id", sessionID, "removed", removed)
		}
	}
	return cp, nil
}

// LoadLatest returns the newest checkpoint for sessionID, or false when
// there is none or the newest one fails verification. It never returns an
// error; problems are logged and treated as a fresh start.
func (s *Store) LoadLatest(sessionID string) (*Checkpoint, bool) {
	entries, err := s.List(sessionID)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("list checkpoints failed", "session_id", sessionID, "error", err)
		}
		return nil, false
	}
	if len(entries) == 0 {
		return nil, false
	}
	latest := entries[len(entries)-1]
	cp, err := readCheckpoint(latest.Path)
	if err != nil {
		s.logger.Info("ignoring unreadable checkpoint", "path", latest.Path, "error", err)
		return nil, false
	}
	if err := cp.Verify(); err != nil {
		s.logger.Info("ignoring checkpoint", "path", latest.Path, "error", err)
		return nil, false
	}
	return cp, true
}

// Entry describes a checkpoint file on disk.
type Entry struct {
	Path    string
	Name    string
	ModTime time.Time

	stamp string
	seq   int
}

// List returns the checkpoint files for sessionID ordered oldest first by
// modification time, then by the timestamp in the name.
func (s *Store) List(sessionID string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	prefix := filePrefix + sanitizeID(sessionID) + "_"
	var out []Entry
	for _, ent := range dirEntries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		m := suffixPattern.FindStringSubmatch(name[len(prefix):])
		if m == nil {
			continue
		}
		seq := 1
		if m[2] != "" {
			seq, _ = strconv.Atoi(m[2])
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Path:    filepath.Join(s.Dir, name),
			Name:    name,
			ModTime: info.ModTime(),
			stamp:   m[1],
			seq:     seq,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.Before(out[j].ModTime)
		}
		if out[i].stamp != out[j].stamp {
			return out[i].stamp < out[j].stamp
		}
		return out[i].seq < out[j].seq
	})
	return out, nil
}

// Read loads and verifies the checkpoint at path.
func Read(path string) (*Checkpoint, error) {
	cp, err := readCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := cp.Verify(); err != nil {
		return cp, err
	}
	return cp, nil
}

// Prune deletes all but the newest keep checkpoints for sessionID.
func (s *Store) Prune(sessionID string, keep int) (int, error) {
	entries, err := s.List(sessionID)
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}
	if keep < 1 || len(entries) <= keep {
		return 0, nil
	}
	removed := 0
	for _, e := range entries[:len(entries)-keep] {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", e.Name, err)
		}
		removed++
	}
	return removed, nil
}

// FileName returns the base name used for a checkpoint taken at ts.
func FileName(sessionID string, ts time.Time) string {
	return fmt.Sprintf("%s%s_%s.json", filePrefix, sanitizeID(sessionID), ts.UTC().Format(timestampLayout))
}

// uniquePath never reuses a name within one second, even after compaction
// removed earlier files from that second.
func (s *Store) uniquePath(sessionID string, ts time.Time) string {
	base := FileName(sessionID, ts)
	stem := strings.TrimSuffix(base, ".json")
	matches, _ := filepath.Glob(filepath.Join(s.Dir, stem+"*.json"))
	if len(matches) == 0 {
		return filepath.Join(s.Dir, base)
	}
	next := 2
	for _, m := range matches {
		rest := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), stem), ".json")
		if n, err := strconv.Atoi(strings.TrimPrefix(rest, "-")); err == nil && n >= next {
			next = n + 1
		}
	}
	return filepath.Join(s.Dir, fmt.Sprintf("%s-%d.json", stem, next))
}

func readCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

func sanitizeID(id string) string {
	return unsafeIDChars.ReplaceAllString(strings.TrimSpace(id), "-")
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
