package bridge

import (
	"log/slog"

	"github.com/parlancehq/parlance/pkg/turns"
)

// slogObserver logs controller transitions and barge-in decisions for
// one call.
type slogObserver struct {
	logger *slog.Logger
}

var _ turns.Observer = (*slogObserver)(nil)

func (o *slogObserver) OnTransition(tr turns.Transition) {
	o.logger.Debug("turn transition",
		"from", tr.From,
		"to", tr.To,
		"event", tr.Event,
		"reason", tr.Reason)
}

func (o *slogObserver) OnBargeIn(d turns.BargeInDecision) {
	if d.Accepted {
		o.logger.Info("barge-in accepted",
			"since_audio_start", d.SinceAudioStart,
			"speech_for", d.SpeechFor)
		return
	}
	o.logger.Debug("barge-in rejected",
		"reason", d.Reason,
		"since_audio_start", d.SinceAudioStart,
		"since_last", d.SinceLastBargeIn)
}
