package assistant

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
)

// normalizeArguments accepts tool arguments as a JSON object or as a string
// holding one, which is how some voice platforms forward function calls.
func normalizeArguments(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, apperr.Validation("assistant: arguments: %v", err)
		}
		trimmed = bytes.TrimSpace([]byte(inner))
		if len(trimmed) == 0 {
			return json.RawMessage(`{}`), nil
		}
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, apperr.Validation("assistant: arguments must be a JSON object")
	}
	return json.RawMessage(trimmed), nil
}

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apperr.Validation("assistant: arguments: %v", err)
	}
	return out, nil
}

// flexBool decodes true/false as well as the quoted forms models sometimes emit.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`))
	switch s {
	case "true", "yes", "1":
		*b = true
	case "false", "no", "0", "", "null":
		*b = false
	default:
		return errors.New("expected a boolean")
	}
	return nil
}

// flexInt decodes numbers and numeric strings.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.New("expected a number")
	}
	*n = flexInt(int(f))
	return nil
}

type findAppointmentTypeArgs struct {
	Reason            string   `json:"reason"`
	IsUrgent          flexBool `json:"isUrgent"`
	CheckAvailability flexBool `json:"checkAvailability"`
}

type checkAvailableSlotsArgs struct {
	StartDate  string  `json:"startDate"`
	SearchDays flexInt `json:"searchDays"`
	TimeOfDay  string  `json:"timeOfDay"`
}

type identifyPatientArgs struct {
	FullName    string `json:"fullName"`
	DateOfBirth string `json:"dateOfBirth"`
}

type collectPatientDetailsArgs struct {
	Field     string    `json:"field"`
	Value     string    `json:"value"`
	Confirmed *flexBool `json:"confirmed"`
}

type checkInsuranceArgs struct {
	PlanName string `json:"planName"`
}

type selectAndBookSlotArgs struct {
	Utterance string    `json:"utterance"`
	Confirmed *flexBool `json:"confirmed"`
}
