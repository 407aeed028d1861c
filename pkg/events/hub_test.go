package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishDecode(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.Publish(CalibrationStep, CalibrationStepEvent{Step: 45, Reading: 99.99999})

	ev := <-ch
	assert.Equal(t, CalibrationStep, ev.Name)
	got, err := DecodeAs[CalibrationStepEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, 45, got.Step)
	assert.Equal(t, 99.99999, got.Reading)
}

func TestNilHubDrops(t *testing.T) {
	var h *Hub
	assert.NotPanics(t, func() { h.Publish(RunPhase, RunPhaseEvent{}) })
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()

	for i := 0; i < subscriberBuffer*2; i++ {
		h.Publish(SlowRead, SlowReadEvent{ElapsedSec: float64(i)})
	}
	assert.Len(t, ch, subscriberBuffer)

	h.Close()
	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)

	closed := h.Subscribe()
	_, ok := <-closed
	assert.False(t, ok)
}

func TestDecodeEmpty(t *testing.T) {
	got, err := DecodeAs[OperatorPromptEvent](Event{Name: OperatorPrompt})
	require.NoError(t, err)
	assert.Empty(t, got.Prompt)
}
