package speech

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/pacemaker/internal/feedback"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFor(t *testing.T) {
	assert.Equal(t, Options{Rate: 0.9, Pitch: 1.2, Volume: 1.0, Language: "en-US"}, OptionsFor(feedback.KindPace))
	assert.Equal(t, 1.0, OptionsFor(feedback.KindCheckpoint).Pitch)
	assert.Equal(t, AnnouncementOptions, OptionsFor(feedback.KindGoal))
}

func TestArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-s", "158", "-p", "60", "-a", "100", "-v", "en-us", "Good pace."},
		Args("/usr/bin/espeak-ng", "Good pace.", PaceOptions, ""))

	assert.Equal(t, []string{"-r", "162", "Good pace."}, Args("say", "Good pace.", PaceOptions, ""))
	assert.Equal(t, []string{"-r", "162", "-v", "Samantha", "Hi"}, Args("say", "Hi", PaceOptions, "Samantha"))
	assert.Equal(t, []string{"Hi"}, Args("mytts", "Hi", PaceOptions, ""))
}

func TestCommandSpeakerBreakerOpens(t *testing.T) {
	s := NewCommandSpeaker("/nonexistent/pacemaker-tts", "")

	for i := 0; i < 3; i++ {
		assert.Error(t, s.Speak(context.Background(), "hello", PaceOptions))
	}
	assert.Equal(t, gobreaker.StateOpen, s.State())

	err := s.Speak(context.Background(), "hello", PaceOptions)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.NoError(t, s.Stop(), "stop with nothing playing is a no-op")
}

func TestLogSpeakerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSpeaker(&buf)
	require.NoError(t, s.Speak(context.Background(), "Tracking well.", PaceOptions))
	assert.Contains(t, buf.String(), "Tracking well.")
	assert.Equal(t, []string{"Tracking well."}, s.Spoken())
}

func TestDispatcherSpeaksJoinedMessages(t *testing.T) {
	s := NewLogSpeaker(nil)

	var mu sync.Mutex
	var results []Result
	d := NewDispatcher(s, func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NoError(t, d.Announce(
		feedback.Message{Kind: feedback.KindPace, Text: "Good pace."},
		feedback.Message{Kind: feedback.KindCheckpoint, Text: "1.0 kilometers completed! Time elapsed: 5:00"},
	))

	require.Eventually(t, func() bool { return len(s.Spoken()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Good pace. 1.0 kilometers completed! Time elapsed: 5:00", s.Spoken()[0])
	assert.GreaterOrEqual(t, s.Stops(), 1, "current utterance is stopped before the next")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 1)
	assert.Equal(t, PaceOptions, results[0].Utterance.Options)
	assert.NoError(t, results[0].Err)
}

// blockingSpeaker holds each utterance until Stop or cancellation.
type blockingSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	release chan struct{}
}

func newBlockingSpeaker() *blockingSpeaker {
	return &blockingSpeaker{release: make(chan struct{}, 16)}
}

func (b *blockingSpeaker) Speak(ctx context.Context, text string, _ Options) error {
	b.mu.Lock()
	b.spoken = append(b.spoken, text)
	b.mu.Unlock()
	select {
	case <-b.release:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingSpeaker) Stop() error {
	select {
	case b.release <- struct{}{}:
	default:
	}
	return nil
}

func (b *blockingSpeaker) Spoken() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.spoken...)
}

func TestDispatcherNeverBlocksAndLatestWins(t *testing.T) {
	b := newBlockingSpeaker()
	d := NewDispatcher(b, nil)
	require.NoError(t, d.Start())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = d.Announce(feedback.Message{Kind: feedback.KindPace, Text: "old"})
		}
		_ = d.Announce(feedback.Message{Kind: feedback.KindPace, Text: "latest"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Announce blocked")
	}

	require.Eventually(t, func() bool {
		spoken := b.Spoken()
		return len(spoken) > 0 && spoken[len(spoken)-1] == "latest"
	}, time.Second, 5*time.Millisecond)
	assert.Less(t, len(b.Spoken()), 101, "queued utterances are replaced, not all played")

	d.Stop()
	assert.ErrorIs(t, d.Announce(feedback.Message{Text: "late"}), ErrDispatcherClosed)
}

func TestDispatcherNotStarted(t *testing.T) {
	d := NewDispatcher(NewLogSpeaker(nil), nil)
	assert.ErrorIs(t, d.Announce(feedback.Message{Text: "x"}), ErrDispatcherNotStarted)
	assert.NoError(t, d.Announce(), "nothing to say is fine")
	d.Stop()
	assert.ErrorIs(t, d.Start(), ErrDispatcherClosed)
}
