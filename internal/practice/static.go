package practice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
)

// StaticDirectory serves practice configuration from memory. It backs local
// development (loaded from a JSON file) and tests.
type StaticDirectory struct {
	practices map[string]*Practice
	resources map[string]*Resources
}

// StaticPractice is the on-disk shape of one practice in a configuration file.
type StaticPractice struct {
	Practice
	// Resources keyed by appointment type id.
	Resources map[string]*Resources `json:"resources"`
}

// NewStaticDirectory builds an in-memory directory.
func NewStaticDirectory(entries ...StaticPractice) *StaticDirectory {
	d := &StaticDirectory{
		practices: make(map[string]*Practice),
		resources: make(map[string]*Resources),
	}
	for i := range entries {
		p := entries[i].Practice
		d.practices[p.ID] = &p
		for typeID, res := range entries[i].Resources {
			d.resources[p.ID+"/"+typeID] = res
		}
	}
	return d
}

// LoadStaticDirectory reads a JSON array of StaticPractice entries.
func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("practice: read config file: %w", err)
	}
	var entries []StaticPractice
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("practice: parse config file: %w", err)
	}
	return NewStaticDirectory(entries...), nil
}

func (d *StaticDirectory) Get(_ context.Context, practiceID string) (*Practice, error) {
	p, ok := d.practices[practiceID]
	if !ok {
		return nil, apperr.NotFound("practice %s", practiceID)
	}
	cp := *p
	return &cp, nil
}

func (d *StaticDirectory) FindByAssistantID(_ context.Context, assistantID string) (*Practice, error) {
	for _, p := range d.practices {
		if assistantID != "" && p.AssistantID == assistantID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("practice for assistant %s", assistantID)
}

func (d *StaticDirectory) EligibleResources(_ context.Context, practiceID, appointmentTypeID string) (*Resources, error) {
	res, ok := d.resources[practiceID+"/"+appointmentTypeID]
	if !ok || len(res.Providers) == 0 {
		return nil, apperr.Configuration("no active providers for appointment type %s", appointmentTypeID)
	}
	if len(res.Operatories) == 0 {
		return nil, apperr.Configuration("no active operatories for appointment type %s", appointmentTypeID)
	}
	return res, nil
}
