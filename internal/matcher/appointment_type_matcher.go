package matcher

import (
	"context"
	"strings"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/llm"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// AppointmentTypeMatcher classifies a caller's reason for visit into one of the
// practice's active appointment types.
type AppointmentTypeMatcher struct {
	client llm.Client
	model  string
	logger *logging.Logger
}

func NewAppointmentTypeMatcher(client llm.Client, model string, logger *logging.Logger) *AppointmentTypeMatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentTypeMatcher{client: client, model: model, logger: logger}
}

// Match returns the appointment type for reason. An exact name, spoken name or
// keyword hit skips the model. No match is a NotFound error so the caller can
// be asked to rephrase; a failing model is an Upstream error.
func (m *AppointmentTypeMatcher) Match(ctx context.Context, reason string, types []practice.AppointmentType) (practice.AppointmentType, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return practice.AppointmentType{}, apperr.Validation("reason is required")
	}
	if len(types) == 0 {
		return practice.AppointmentType{}, apperr.Configuration("practice has no active appointment types")
	}

	if t, ok := exactTypeMatch(reason, types); ok {
		return t, nil
	}

	options := make([]string, len(types))
	for i, t := range types {
		label := t.Name
		if t.SpokenName != "" && !strings.EqualFold(t.SpokenName, t.Name) {
			label += " (also called " + t.SpokenName + ")"
		}
		if len(t.Keywords) > 0 {
			label += " - e.g. " + strings.Join(t.Keywords, ", ")
		}
		options[i] = label
	}

	n, err := llm.Choose(ctx, m.client, llm.ChoiceRequest{
		Instruction: "appointment types offered by the dental office",
		Utterance:   reason,
		Options:     options,
		Model:       m.model,
	})
	if err == llm.ErrNoChoice {
		m.logger.Info("appointment type not matched", "reason", reason)
		return practice.AppointmentType{}, apperr.NotFound("no appointment type matches %q", reason)
	}
	if err != nil {
		m.logger.Warn("appointment type match failed", "reason", reason, "error", err)
		return practice.AppointmentType{}, apperr.Upstream(err, "matcher: classify appointment type")
	}
	return types[n-1], nil
}

func exactTypeMatch(reason string, types []practice.AppointmentType) (practice.AppointmentType, bool) {
	lower := strings.ToLower(reason)
	for _, t := range types {
		if strings.EqualFold(t.Name, reason) || (t.SpokenName != "" && strings.EqualFold(t.SpokenName, reason)) {
			return t, true
		}
	}
	var hits []practice.AppointmentType
	for _, t := range types {
		for _, kw := range t.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && containsWord(lower, kw) {
				hits = append(hits, t)
				break
			}
		}
	}
	if len(hits) == 1 {
		return hits[0], true
	}
	return practice.AppointmentType{}, false
}

func containsWord(text, word string) bool {
	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	}) {
		if field == word {
			return true
		}
	}
	return strings.Contains(word, " ") && strings.Contains(text, word)
}
