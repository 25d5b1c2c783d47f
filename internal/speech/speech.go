// Package speech turns feedback messages into spoken announcements.
//
// Speaking is best effort: a Speaker may fail, and callers swallow the error.
// The Dispatcher makes announcing non-blocking for the run controller.
package speech

import (
	"context"
	"errors"

	"github.com/ChuLiYu/pacemaker/internal/feedback"
)

// ErrSpeechDisabled is returned by speakers that were configured off.
var ErrSpeechDisabled = errors.New("speech: disabled")

// Options controls how an utterance sounds. Rate, Pitch and Volume are
// relative to the engine's normal voice, where 1.0 is unchanged.
type Options struct {
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Volume   float64 `json:"volume"`
	Language string  `json:"language"`
}

// PaceOptions is used for pace feedback: slightly slower and higher.
var PaceOptions = Options{Rate: 0.9, Pitch: 1.2, Volume: 1.0, Language: "en-US"}

// AnnouncementOptions is used for checkpoints and the goal announcement.
var AnnouncementOptions = Options{Rate: 0.9, Pitch: 1.0, Volume: 1.0, Language: "en-US"}

// OptionsFor picks the voice settings for a feedback kind.
func OptionsFor(kind feedback.Kind) Options {
	if kind == feedback.KindPace {
		return PaceOptions
	}
	return AnnouncementOptions
}

// Speaker is the speech output collaborator.
type Speaker interface {
	// Speak plays text and returns when playback ends or is stopped.
	Speak(ctx context.Context, text string, opts Options) error
	// Stop cuts the current utterance. Stopping when silent is a no-op.
	Stop() error
}
