package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/internal/slots"
)

const (
	msgUpstream      = "I'm sorry, I'm having trouble reaching our scheduling system right now. Could you give me a moment and try that again?"
	msgSlotConflict  = "I'm sorry, that time was just taken by another patient."
	msgHoldExpired   = "I'm sorry, I wasn't able to keep that time reserved any longer."
	msgNotUnderstood = "I didn't quite catch that. Could you say it again?"
	msgStillWorking  = "I'm still working on that, one moment please."
)

func officeContact(p *practice.Practice) string {
	if p != nil && p.OfficePhone != "" {
		return "please call the office at " + p.OfficePhone
	}
	return "please contact the office directly"
}

// failure turns an error into what the caller hears. Validation problems are
// tool errors; everything else is spoken guidance.
func failure(p *practice.Practice, err error) Result {
	kind := apperr.KindOf(err)
	r := Result{kind: kind}
	switch kind {
	case apperr.KindValidation:
		r.Error = msgNotUnderstood
	case apperr.KindConfiguration:
		r.Message = fmt.Sprintf("I'm not able to schedule that over the phone right now. For help booking, %s.", officeContact(p))
	case apperr.KindNotFound:
		r.Message = "I wasn't able to find that. Could you tell me a little more?"
	case apperr.KindAmbiguousMatch:
		r.Message = fmt.Sprintf("I found more than one record matching that information. To protect your privacy, %s and our team will help you.", officeContact(p))
	case apperr.KindSlotConflict:
		r.Message = msgSlotConflict
	case apperr.KindHoldExpired:
		r.Message = msgHoldExpired
	default:
		r.kind = apperr.KindUpstream
		r.Message = msgUpstream
	}
	return r
}

func invalid(message string) Result {
	return Result{Error: message, kind: apperr.KindValidation}
}

func spokenDate(date string, loc *time.Location) string {
	t, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2")
}

func bucketLabel(b slots.Bucket) string {
	if b == slots.BucketAllDay {
		return ""
	}
	return strings.ReplaceAll(string(b), "_", " ") + " "
}

// describeDays summarizes up to three days as "morning and afternoon openings
// on Monday, March 3".
func describeDays(days []slots.DayAvailability, loc *time.Location) string {
	var parts []string
	for _, d := range days {
		buckets := d.Buckets()
		if len(buckets) == 0 {
			continue
		}
		names := make([]string, len(buckets))
		for i, b := range buckets {
			names[i] = string(b)
		}
		parts = append(parts, fmt.Sprintf("%s openings on %s", joinWords(names), spokenDate(d.Date, loc)))
		if len(parts) == 3 {
			break
		}
	}
	return joinWords(parts)
}

func joinWords(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}

func presentSlotsMessage(st *callstate.State, presented []slots.SlotData, loc *time.Location) string {
	var sb strings.Builder
	if len(presented) == 1 {
		sb.WriteString(fmt.Sprintf("For your %s, I have one opening: %s. Would that work for you?",
			st.Booking.AppointmentLabel(), slots.FormatForSpeech(presented[0], loc)))
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("For your %s, I have these openings:\n", st.Booking.AppointmentLabel()))
	sb.WriteString(slots.Describe(presented, loc))
	sb.WriteString("\nWhich of these works best for you?")
	return sb.String()
}
