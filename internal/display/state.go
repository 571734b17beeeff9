package display

import (
	"fmt"
	"sync"

	"github.com/uvstream/vrgdisplay/internal/video"
)

// State is the lifecycle position of a display instance.
type State int

const (
	StateUnloaded State = iota
	StateInitialized
	StateConfigured
	StateRunning
	StateStopped
)

var stateNames = [...]string{"unloaded", "initialized", "configured", "running", "stopped"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown display state %q", text)
}

// Lifecycle is the state machine shared by all kinds:
//
//	Initialized --Configure--> Configured --MarkRunning--> Running
//	Configured|Running --Configure--> Configured
//	any --Unconfigure--> Initialized (no format)
//	any --Stop--> Stopped
//
// It also owns the negotiated format. The mutex only guards readers on
// other goroutines; transitions come from the single owning call path.
type Lifecycle struct {
	module string
	id     string

	mu      sync.RWMutex
	state   State
	desc    video.Desc
	hasDesc bool
}

// NewLifecycle returns a machine in the Initialized state.
func NewLifecycle(module, id string) *Lifecycle {
	return &Lifecycle{module: module, id: id, state: StateInitialized}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Desc returns the negotiated format, if any.
func (l *Lifecycle) Desc() (video.Desc, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.desc, l.hasDesc
}

// Configure records a newly accepted format.
func (l *Lifecycle) Configure(desc video.Desc) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateStopped {
		return &Error{Op: "reconfigure", Module: l.module, Err: ErrStopped}
	}
	l.desc = desc
	l.hasDesc = true
	l.state = StateConfigured
	return nil
}

// Unconfigure drops the format after a failed handshake.
func (l *Lifecycle) Unconfigure() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateStopped {
		return
	}
	l.desc = video.Desc{}
	l.hasDesc = false
	l.state = StateInitialized
}

// CheckAcquire returns the format a new frame must be allocated for.
func (l *Lifecycle) CheckAcquire() (video.Desc, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch {
	case l.state == StateStopped:
		return video.Desc{}, &Error{Op: "getf", Module: l.module, Err: ErrStopped}
	case !l.hasDesc:
		return video.Desc{}, &Error{Op: "getf", Module: l.module, Err: ErrNotConfigured}
	}
	return l.desc, nil
}

// CheckFrame verifies frame may be forwarded: it must be live, come from
// this instance and carry the current format.
func (l *Lifecycle) CheckFrame(frame *video.Frame) error {
	if frame == nil {
		return &Error{Op: "putf", Module: l.module, Err: fmt.Errorf("%w: nil frame", ErrContractViolation)}
	}
	if frame.Released() {
		return &Error{Op: "putf", Module: l.module, Err: fmt.Errorf("%w: frame already released", ErrContractViolation)}
	}
	if frame.Owner() != l.id {
		return &Error{Op: "putf", Module: l.module,
			Err: fmt.Errorf("%w: frame belongs to %q", ErrContractViolation, frame.Owner())}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	switch {
	case l.state == StateStopped:
		return &Error{Op: "putf", Module: l.module, Err: ErrStopped}
	case !l.hasDesc:
		return &Error{Op: "putf", Module: l.module, Err: ErrNotConfigured}
	case frame.Desc != l.desc:
		return &Error{Op: "putf", Module: l.module,
			Err: fmt.Errorf("%w: frame format %s, negotiated %s", ErrContractViolation, frame.Desc, l.desc)}
	case len(frame.Data()) != video.DataLen(l.desc.Codec, l.desc.Width, l.desc.Height):
		return &Error{Op: "putf", Module: l.module,
			Err: fmt.Errorf("%w: frame holds %d bytes, %s needs %d", ErrContractViolation,
				len(frame.Data()), l.desc, video.DataLen(l.desc.Codec, l.desc.Width, l.desc.Height))}
	}
	return nil
}

// MarkRunning moves Configured to Running. It is a no-op otherwise.
func (l *Lifecycle) MarkRunning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateConfigured {
		l.state = StateRunning
	}
}

// Stop moves to Stopped. It returns false if already stopped, so callers
// release their resources exactly once.
func (l *Lifecycle) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateStopped {
		return false
	}
	l.state = StateStopped
	l.hasDesc = false
	return true
}

// ReleaseFrame ends a frame's lifetime, turning a double release into a
// contract violation.
func (l *Lifecycle) ReleaseFrame(frame *video.Frame) error {
	if frame == nil {
		return nil
	}
	if err := frame.Release(); err != nil {
		return &Error{Op: "putf", Module: l.module, Err: fmt.Errorf("%w: %v", ErrContractViolation, err)}
	}
	return nil
}
