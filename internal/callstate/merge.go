package callstate

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Patch is a key-level change set between two versions of a state document.
// Nested objects recurse; a nil value deletes the key. Arrays are replaced
// whole.
type Patch map[string]any

// Diff computes the patch that turns before into after.
func Diff(before, after *State) (Patch, error) {
	b, err := toDocument(before)
	if err != nil {
		return nil, err
	}
	a, err := toDocument(after)
	if err != nil {
		return nil, err
	}
	return diffDocuments(b, a), nil
}

// Rebase applies the changes a turn made (before -> after) onto latest, the
// version another writer persisted in the meantime. Keys the turn did not
// touch keep latest's values. A booking confirmed by the other writer is never
// overwritten.
func Rebase(before, after, latest *State) (*State, error) {
	patch, err := Diff(before, after)
	if err != nil {
		return nil, err
	}
	delete(patch, "version")
	delete(patch, "callId")
	delete(patch, "practiceId")
	delete(patch, "createdAt")

	doc, err := toDocument(latest)
	if err != nil {
		return nil, err
	}
	merged := applyPatch(doc, patch)

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("callstate: encode merged state: %w", err)
	}
	var out State
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("callstate: decode merged state: %w", err)
	}
	out.Version = latest.Version
	if latest.IsBooked() {
		out.Booking = latest.Clone().Booking
		out.Stage = StageBooked
	}
	return &out, nil
}

func toDocument(s *State) (map[string]any, error) {
	if s == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("callstate: encode state: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("callstate: decode state: %w", err)
	}
	return doc, nil
}

func diffDocuments(before, after map[string]any) Patch {
	patch := Patch{}
	for key, av := range after {
		bv, ok := before[key]
		if !ok {
			patch[key] = av
			continue
		}
		am, aIsMap := av.(map[string]any)
		bm, bIsMap := bv.(map[string]any)
		if aIsMap && bIsMap {
			if nested := diffDocuments(bm, am); len(nested) > 0 {
				patch[key] = map[string]any(nested)
			}
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			patch[key] = av
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			patch[key] = nil
		}
	}
	return patch
}

func applyPatch(doc map[string]any, patch Patch) map[string]any {
	if doc == nil {
		doc = map[string]any{}
	}
	for key, pv := range patch {
		if pv == nil {
			delete(doc, key)
			continue
		}
		pm, pIsMap := pv.(map[string]any)
		dm, dIsMap := doc[key].(map[string]any)
		if pIsMap && dIsMap {
			doc[key] = applyPatch(dm, Patch(pm))
			continue
		}
		doc[key] = pv
	}
	return doc
}
