// Package vrgstreamtest provides an in-memory vrgstream.Stream for tests.
package vrgstreamtest

import (
	"context"
	"sync"
	"time"

	"github.com/uvstream/vrgdisplay/internal/vrgstream"
)

// Submission is one recorded SubmitFrame call.
type Submission struct {
	Counter int64
	Len     int
	First   byte
}

// Fake records calls and returns programmable statuses. The zero value
// accepts everything.
type Fake struct {
	mu sync.Mutex

	// InitStatus is returned by Init.
	InitStatus vrgstream.Status
	// SubmitStatus, when set, decides each SubmitFrame result.
	SubmitStatus func(counter int64) vrgstream.Status
	// Delay is slept inside SubmitFrame, bounded by the context.
	Delay time.Duration

	inits       []vrgstream.ColorMode
	submissions []Submission
	closed      int
	last        vrgstream.Status
}

var _ vrgstream.Stream = (*Fake)(nil)

func (f *Fake) Init(ctx context.Context, mode vrgstream.ColorMode) vrgstream.Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inits = append(f.inits, mode)
	f.last = f.InitStatus
	return f.InitStatus
}

func (f *Fake) SubmitFrame(ctx context.Context, counter int64, data []byte) vrgstream.Status {
	f.mu.Lock()
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return vrgstream.StatusTimeout
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	sub := Submission{Counter: counter, Len: len(data)}
	if len(data) > 0 {
		sub.First = data[0]
	}
	f.submissions = append(f.submissions, sub)

	st := vrgstream.StatusOK
	if f.SubmitStatus != nil {
		st = f.SubmitStatus(counter)
	}
	f.last = st
	return st
}

func (f *Fake) QueryStatus() vrgstream.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// Inits returns the color modes passed to Init, in order.
func (f *Fake) Inits() []vrgstream.ColorMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vrgstream.ColorMode(nil), f.inits...)
}

// Submissions returns recorded SubmitFrame calls, in order.
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submissions...)
}

// Closed returns how many times Close was called.
func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
