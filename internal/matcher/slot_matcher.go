// Package matcher resolves free-text caller utterances against a fixed list of
// candidates (presented slots, configured appointment types) using a
// language-model classifier constrained to a numbered choice.
package matcher

import (
	"context"
	"time"

	"github.com/wolfman30/dental-scheduling-assistant/internal/llm"
	"github.com/wolfman30/dental-scheduling-assistant/internal/slots"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// SlotMatcher picks one of the slots that was read to the caller.
type SlotMatcher struct {
	client llm.Client
	model  string
	logger *logging.Logger
}

// NewSlotMatcher constructs a matcher backed by client.
func NewSlotMatcher(client llm.Client, model string, logger *logging.Logger) *SlotMatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &SlotMatcher{client: client, model: model, logger: logger}
}

// Match returns a copy of the presented slot the utterance refers to, or nil when
// the utterance is ambiguous, matches nothing, or the model fails. The result is
// always an element of presented, never a synthesized slot.
func (m *SlotMatcher) Match(ctx context.Context, utterance string, presented []slots.SlotData, loc *time.Location) *slots.SlotData {
	if len(presented) == 0 {
		return nil
	}
	options := make([]string, len(presented))
	for i, s := range presented {
		options[i] = slots.FormatForSpeech(s, loc)
	}

	n, err := llm.Choose(ctx, m.client, llm.ChoiceRequest{
		Instruction: "appointment times that were offered",
		Utterance:   utterance,
		Options:     options,
		Model:       m.model,
	})
	if err != nil {
		// A bare ErrNoChoice is an ordinary "no match"; anything wrapped is a model failure.
		if err != llm.ErrNoChoice {
			m.logger.Warn("slot match failed", "error", err)
		}
		return nil
	}

	chosen := presented[n-1].Clone()
	return &chosen
}
