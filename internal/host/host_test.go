package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/uvstream/vrgdisplay/internal/video"
)

func TestExitFirstStatusWins(t *testing.T) {
	h := New(context.Background(), Settings{Desc: video.NewDesc(1920, 1080, video.RGBA, 30)})
	assert.NoError(t, h.Context().Err())

	h.Exit(2)
	h.Exit(0)

	<-h.Done()
	assert.Equal(t, 2, h.ExitStatus())
	assert.Equal(t, 1920, h.Settings().Desc.Width)
}

func TestParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	h := New(parent, Settings{})
	cancel()
	<-h.Done()
	assert.ErrorIs(t, h.Context().Err(), context.Canceled)
	assert.Equal(t, 0, h.ExitStatus())
}
