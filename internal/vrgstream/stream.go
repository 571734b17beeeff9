// Package vrgstream is the boundary to the VR streaming service that
// consumes finished frames. The service is opaque: every call returns a
// Status and the caller decides what a failure means.
package vrgstream

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the result code of a stream call.
type Status int

const (
	StatusOK Status = iota
	StatusNotInitialized
	StatusInvalidColorMode
	StatusInvalidFrame
	StatusTimeout
	StatusConnection
	StatusInternal
)

var statusNames = []string{
	"Ok",
	"NotInitialized",
	"InvalidColorMode",
	"InvalidFrame",
	"Timeout",
	"ConnectionError",
	"InternalError",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// OK reports whether the call succeeded.
func (s Status) OK() bool {
	return s == StatusOK
}

// Err converts a failed status to an error, nil for StatusOK.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError wraps a non-Ok status.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return "vrgstream: " + e.Status.String()
}

// ColorMode is the picture layout the service is initialised for.
type ColorMode int

const (
	// ColorModeRGBA is packed RGBA.
	ColorModeRGBA ColorMode = iota + 1
	// ColorModeYUV420 is planar luma-chroma 4:2:0.
	ColorModeYUV420
)

func (m ColorMode) String() string {
	switch m {
	case ColorModeRGBA:
		return "rgba"
	case ColorModeYUV420:
		return "yuv420"
	default:
		return fmt.Sprintf("colormode(%d)", int(m))
	}
}

// ParseColorMode is the inverse of ColorMode.String.
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(s) {
	case "rgba":
		return ColorModeRGBA, nil
	case "yuv420", "i420":
		return ColorModeYUV420, nil
	default:
		return 0, fmt.Errorf("unknown color mode %q", s)
	}
}

// Stream is the narrow capability the display module needs from the
// service. Calls are synchronous and may block up to the context deadline.
//
// The service also has a render call returning head-pose packets. It is
// intentionally absent: it has been seen to hang inside the vendor
// library and is not safe to call from the frame path.
type Stream interface {
	// Init (re)initialises the service pipeline for a color mode.
	Init(ctx context.Context, mode ColorMode) Status

	// SubmitFrame hands one picture to the service. data is only read
	// for the duration of the call.
	SubmitFrame(ctx context.Context, counter int64, data []byte) Status

	// QueryStatus reports the service state without side effects.
	QueryStatus() Status

	// Close releases the connection to the service.
	Close() error
}
