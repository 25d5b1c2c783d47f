package speech

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CommandSpeaker speaks through an external text-to-speech program such as
// espeak-ng or macOS say. Failures trip a circuit breaker so a missing or
// broken engine is not spawned for every message.
type CommandSpeaker struct {
	command string
	voice   string
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu      sync.Mutex
	current *os.Process
}

// NewCommandSpeaker creates a speaker for command. voice overrides the
// language-derived voice when non-empty.
func NewCommandSpeaker(command, voice string) *CommandSpeaker {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "speech:" + command,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			// a stopped utterance is not an engine failure
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &CommandSpeaker{command: command, voice: voice, breaker: cb}
}

// Speak runs the engine and waits for it to exit.
func (s *CommandSpeaker) Speak(ctx context.Context, text string, opts Options) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.run(ctx, text, opts)
	})
	if err != nil {
		return fmt.Errorf("speak with %s: %w", s.command, err)
	}
	return nil
}

// Stop kills the running engine process, if any.
func (s *CommandSpeaker) Stop() error {
	s.mu.Lock()
	proc := s.current
	s.mu.Unlock()

	if proc == nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// State reports the breaker state, for status output.
func (s *CommandSpeaker) State() gobreaker.State {
	return s.breaker.State()
}

func (s *CommandSpeaker) run(ctx context.Context, text string, opts Options) error {
	cmd := exec.CommandContext(ctx, s.command, Args(s.command, text, opts, s.voice)...)
	if err := cmd.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = cmd.Process
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.current == cmd.Process {
			s.current = nil
		}
		s.mu.Unlock()
	}()

	err := cmd.Wait()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !exitErr.Exited() {
		// killed by Stop
		return context.Canceled
	}
	return err
}

// Args maps Options onto the command line of known engines. Unknown engines
// receive the text as their only argument.
func Args(command, text string, opts Options, voice string) []string {
	if voice == "" {
		voice = opts.Language
	}

	switch engineName(command) {
	case "espeak", "espeak-ng":
		// espeak: -s words per minute (175 normal), -p pitch 0..99 (50 normal), -a amplitude 0..200 (100 normal)
		return []string{
			"-s", strconv.Itoa(scale(opts.Rate, 175, 80, 450)),
			"-p", strconv.Itoa(scale(opts.Pitch, 50, 0, 99)),
			"-a", strconv.Itoa(scale(opts.Volume, 100, 0, 200)),
			"-v", espeakVoice(voice),
			text,
		}
	case "say":
		// say: -r words per minute (about 180 normal)
		args := []string{"-r", strconv.Itoa(scale(opts.Rate, 180, 90, 400))}
		if voice != "" && voice != opts.Language {
			args = append(args, "-v", voice)
		}
		return append(args, text)
	default:
		return []string{text}
	}
}

func engineName(command string) string {
	return filepath.Base(command)
}

// espeakVoice turns "en-US" into espeak's "en-us".
func espeakVoice(lang string) string {
	if lang == "" {
		return "en"
	}
	return strings.ToLower(lang)
}

func scale(factor float64, normal, lo, hi int) int {
	if factor <= 0 {
		factor = 1
	}
	v := int(math.Round(factor * float64(normal)))
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
