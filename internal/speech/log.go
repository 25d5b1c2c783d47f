package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

var log = slog.Default()

// LogSpeaker "speaks" by logging the utterance and, when out is set, writing
// it as a line. Used when no engine is configured and in tests.
type LogSpeaker struct {
	mu     sync.Mutex
	out    io.Writer
	spoken []string
	stops  int
}

// NewLogSpeaker creates a LogSpeaker. out may be nil.
func NewLogSpeaker(out io.Writer) *LogSpeaker {
	return &LogSpeaker{out: out}
}

// Speak records text.
func (s *LogSpeaker) Speak(ctx context.Context, text string, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spoken = append(s.spoken, text)
	log.Info("Speaking", "text", text, "rate", opts.Rate, "pitch", opts.Pitch)
	if s.out != nil {
		if _, err := fmt.Fprintf(s.out, "🔊 %s\n", text); err != nil {
			return err
		}
	}
	return nil
}

// Stop counts the call.
func (s *LogSpeaker) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	return nil
}

// Spoken returns every utterance so far.
func (s *LogSpeaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

// Stops returns how many times Stop was called.
func (s *LogSpeaker) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
