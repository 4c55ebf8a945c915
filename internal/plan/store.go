package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"planmonitor/internal/fsutil"
)

// ErrCorrupt marks a plan file that exists but cannot be decoded.
var ErrCorrupt = errors.New("plan file is not a valid plan")

// Store reads and writes the plan file. It does not check domain invariants;
// see Validate.
type Store struct {
	Path string

	now         func() time.Time
	lastWrite   time.Time
	executionID string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore returns a Store for the plan file at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{Path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KeepExecutionID makes skeletons built for a missing or undecodable file
// reuse id instead of minting a new execution id. An empty id restores the
// default.
func (s *Store) KeepExecutionID(id string) {
	s.executionID = id
}

func (s *Store) skeleton() *State {
	st := Default(s.now())
	if s.executionID != "" {
		st.ExecutionID = s.executionID
	}
	return st
}

// Loaded is the result of Store.Load.
type Loaded struct {
	State *State
	// Raw holds the file bytes as read; nil when the file is missing.
	Raw     []byte
	Missing bool
	// ParseErr is set (wrapping ErrCorrupt) when the file exists but could not
	// be decoded. State is then the default skeleton.
	ParseErr error
}

// Load reads the plan file. A missing or undecodable file yields the default
// skeleton; only read errors are returned.
func (s *Store) Load() (*Loaded, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Loaded{State: s.skeleton(), Missing: true}, nil
		}
		return nil, fmt.Errorf("read plan: %w", err)
	}

	st, err := Decode(data)
	if err != nil {
		return &Loaded{
			State:    s.skeleton(),
			Raw:      data,
			ParseErr: fmt.Errorf("%w: %v", ErrCorrupt, err),
		}, nil
	}
	s.fillDefaults(st)
	return &Loaded{State: st, Raw: data}, nil
}

// Save atomically replaces the plan file and refreshes last_updated_at.
// Successive saves through the same Store never reuse a timestamp.
// It returns the bytes written.
func (s *Store) Save(st *State) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("plan state is required")
	}
	now := s.now().UTC().Round(0)
	floor := st.LastUpdatedAt
	if s.lastWrite.After(floor) {
		floor = s.lastWrite
	}
	if !now.After(floor) {
		now = floor.Add(time.Microsecond)
	}
	if now.Before(st.InitiatedAt) {
		now = st.InitiatedAt
	}
	st.LastUpdatedAt = now

	data, err := Encode(st)
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteFileAtomic(s.Path, data, 0o644); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	s.lastWrite = now
	return data, nil
}

// Encode renders st the way it is stored on disk.
func Encode(st *State) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses plan JSON.
func Decode(data []byte) (*State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) fillDefaults(st *State) {
	now := s.now().UTC().Round(0)
	if st.ExecutionID == "" {
		st.ExecutionID = NewExecutionID(now)
	}
	if st.PlanVersion == "" {
		st.PlanVersion = DefaultPlanVersion
	}
	if st.OverallStatus == "" {
		st.OverallStatus = StatusInitialized
	}
	if st.InitiatedAt.IsZero() {
		st.InitiatedAt = now
	}
	if st.CurrentPhase == "" && len(st.Phases) > 0 {
		st.CurrentPhase = st.Phases[0].ID
	}
	if st.Health == nil {
		st.Health = map[string]bool{}
	}
	if st.Cost.ByBucket == nil {
		st.Cost.ByBucket = map[string]Bucket{}
	}
	for i := range st.Phases {
		rec := &st.Phases[i].Record
		if rec.Status == "" {
			rec.Status = PhasePending
		}
		if rec.RequiredAuthorization == "" {
			rec.RequiredAuthorization = AuthNone
		}
	}
}

// Clone returns a deep copy of st through its JSON form.
func Clone(st *State) (*State, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("clone plan: %w", err)
	}
	return Decode(data)
}
