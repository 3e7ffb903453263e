package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NoneToken is the sentinel the model returns when nothing matches.
const NoneToken = "NONE"

// ErrNoChoice means the model declined to pick, or its answer was unusable.
var ErrNoChoice = errors.New("llm: no choice")

var integerPattern = regexp.MustCompile(`\d+`)

// ChoiceRequest asks the model to pick one option for an utterance.
type ChoiceRequest struct {
	Instruction string // what the options are, e.g. "available appointment times"
	Utterance   string
	Options     []string
	Model       string
}

// Choose presents the numbered options and returns the 1-based index the model
// selected. A nil client or a NONE, non-numeric or out-of-range answer yields a
// bare ErrNoChoice; a model error yields ErrNoChoice wrapping the cause.
func Choose(ctx context.Context, client Client, req ChoiceRequest) (int, error) {
	if len(req.Options) == 0 {
		return 0, ErrNoChoice
	}
	if client == nil {
		return 0, ErrNoChoice
	}

	resp, err := client.Complete(ctx, Request{
		Model:       req.Model,
		System:      []string{choiceSystemPrompt},
		Messages:    []Message{{Role: RoleUser, Content: BuildChoicePrompt(req)}},
		MaxTokens:   10,
		Temperature: 0,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoChoice, err)
	}

	n, ok := ParseChoice(resp.Text, len(req.Options))
	if !ok {
		return 0, ErrNoChoice
	}
	return n, nil
}

const choiceSystemPrompt = `You match what a caller said to exactly one option from a numbered list.
Answer with the option number only, or NONE if the caller's words do not clearly identify a single option.
Never guess between two plausible options; answer NONE instead.`

// BuildChoicePrompt renders the utterance and numbered options.
func BuildChoicePrompt(req ChoiceRequest) string {
	var sb strings.Builder
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		instruction = "options"
	}
	fmt.Fprintf(&sb, "Caller said: %q\n\n", strings.TrimSpace(req.Utterance))
	fmt.Fprintf(&sb, "Numbered %s:\n", instruction)
	for i, opt := range req.Options {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, opt)
	}
	fmt.Fprintf(&sb, "\nReply with a single number between 1 and %d, or %s.", len(req.Options), NoneToken)
	return sb.String()
}

// ParseChoice extracts a 1-based option number from model output. The answer is
// rejected when it says NONE, contains no number, names more than one distinct
// number, or is out of range.
func ParseChoice(text string, optionCount int) (int, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.Contains(strings.ToUpper(trimmed), NoneToken) {
		return 0, false
	}
	matches := integerPattern.FindAllString(trimmed, -1)
	if len(matches) == 0 {
		return 0, false
	}
	choice := -1
	for _, m := range matches {
		n, err := strconv.Atoi(m)
		if err != nil {
			return 0, false
		}
		if choice != -1 && n != choice {
			return 0, false
		}
		choice = n
	}
	if choice < 1 || choice > optionCount {
		return 0, false
	}
	return choice, true
}
