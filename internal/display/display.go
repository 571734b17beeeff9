// Package display defines the contract every output device in the video
// pipeline implements, plus the shared pieces (state machine, capability
// table, registry) that concrete kinds build on.
//
// Call sequence expected from the pipeline that owns an instance:
//
//	d, _ := kind.Init(host, "", 0)
//	d.GetProperty(PropertyCodecs, n)   // negotiate
//	d.Reconfigure(desc)
//	for {
//	    f, _ := d.GetFrame()
//	    fill(f)
//	    d.PutFrame(f, PutBlocking)
//	}
//	d.Done()
//
// An instance is driven from one goroutine at a time. In particular Done
// must not run concurrently with PutFrame on the same instance; the caller
// waits for PutFrame to return first. Stats may be read from anywhere.
package display

import (
	"context"

	"github.com/uvstream/vrgdisplay/internal/host"
	"github.com/uvstream/vrgdisplay/internal/stats"
	"github.com/uvstream/vrgdisplay/internal/video"
)

// PutFlags modify PutFrame.
type PutFlags int

const (
	// PutBlocking forwards the frame, waiting for the sink as long as needed.
	PutBlocking PutFlags = iota
	// PutNonblock forwards the frame; kinds that buffer may drop it instead
	// of waiting.
	PutNonblock
	// PutDiscard releases the frame without forwarding it.
	PutDiscard
)

// InitFlags modify Kind.Init.
type InitFlags uint

const (
	InitNone InitFlags = 0
	// InitAudio asks the display to also take audio.
	InitAudio InitFlags = 1 << iota
)

// CheckInitFlags rejects flags asking for capabilities no kind has. None
// of the kinds carry audio, so InitAudio fails with ErrNoAudio.
func CheckInitFlags(module string, flags InitFlags) error {
	if flags&InitAudio != 0 {
		return &Error{Op: "init", Module: module, Err: ErrNoAudio}
	}
	return nil
}

// DeviceInfo describes one instance a kind can open.
type DeviceInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AudioFrame is a block of interleaved PCM samples.
type AudioFrame struct {
	BPS        int
	Channels   int
	SampleRate int
	Data       []byte
}

// Kind is one type of display module.
type Kind interface {
	// Name is the identifier used on the command line and in config.
	Name() string
	// Description is a one-line summary for listings.
	Description() string
	// Probe lists auto-discoverable devices. It has no side effects.
	Probe() []DeviceInfo
	// Init creates a new instance in the Initialized state.
	Init(h *host.Context, spec string, flags InitFlags) (Display, error)
}

// Display is one open output device.
type Display interface {
	// ID is the instance identity tag.
	ID() string
	// Kind is the name of the kind that created the instance.
	Kind() string

	// Run does any work that must happen on the caller's goroutine and
	// returns when ctx is done.
	Run(ctx context.Context) error

	// GetFrame allocates a writable frame for the current format.
	GetFrame() (*video.Frame, error)
	// PutFrame takes ownership of frame and always releases it.
	PutFrame(frame *video.Frame, flags PutFlags) error
	// Reconfigure switches to a new format. Outstanding frames go stale.
	Reconfigure(desc video.Desc) error
	// GetProperty answers a capability query into a buffer of capacity bytes.
	GetProperty(id PropertyID, capacity int) (any, int, error)

	PutAudioFrame(frame *AudioFrame)
	ReconfigureAudio(quantSamples, channels, sampleRate int) error

	// Stats returns a snapshot safe to take from any goroutine.
	Stats() Stats

	// Done stops the instance and releases its resources. Idempotent.
	Done() error
}

// Stats is a point-in-time view of an instance.
type Stats struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	State      State         `json:"state"`
	Desc       *video.Desc   `json:"desc,omitempty"`
	Submitted  int64         `json:"submitted"`
	Dropped    int64         `json:"dropped"`
	Discarded  int64         `json:"discarded"`
	Rejected   int64         `json:"rejected"`
	LastSample *stats.Sample `json:"last_sample,omitempty"`
}
