package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

// Plan is a master plan: a project timeline grouping milestones and free-form metadata.
type Plan struct {
	ID        int64                      `db:"id" json:"id"`
	Project   string                     `db:"project" json:"project"`
	StartDate string                     `db:"start_date" json:"start_date"`
	EndDate   string                     `db:"end_date" json:"end_date"`
	CreatedBy string                     `db:"created_by" json:"created_by"`
	Fields    database.JSONB[PlanFields] `db:"fields" json:"fields"`
	Version   int                        `db:"version" json:"version"`
	CreatedAt time.Time                  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time                  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Plan) TableName() string {
	return "plans"
}

// Milestones returns the plan's milestones in chronological order.
func (p Plan) Milestones() []Milestone {
	milestones := make([]Milestone, 0, len(p.Fields.Data.Milestones))
	for _, m := range p.Fields.Data.Milestones {
		milestones = append(milestones, m)
	}
	SortMilestones(milestones)
	return milestones
}

func (p Plan) Milestone(name string) (Milestone, bool) {
	m, ok := p.Fields.Data.Milestones[name]
	return m, ok
}

func (p Plan) MilestoneByID(id int) (Milestone, bool) {
	for _, m := range p.Fields.Data.Milestones {
		if m.ID == id {
			return m, true
		}
	}
	return Milestone{}, false
}

// PlanFields is the plan's field map. On the wire it is one flat JSON object where an object
// value carrying startDate, endDate or status is a milestone and anything else is metadata.
type PlanFields struct {
	Metadata   map[string]any
	Milestones map[string]Milestone
}

func NewPlanFields() PlanFields {
	return PlanFields{
		Metadata:   map[string]any{},
		Milestones: map[string]Milestone{},
	}
}

func (f PlanFields) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Metadata)+len(f.Milestones))
	for key, value := range f.Metadata {
		out[key] = value
	}
	for name, m := range f.Milestones {
		out[name] = m
	}
	return json.Marshal(out)
}

func (f *PlanFields) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*f = NewPlanFields()
	for key, value := range raw {
		if isMilestoneJSON(value) {
			var m Milestone
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			m.Name = key
			f.Milestones[key] = m
			continue
		}

		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		f.Metadata[key] = v
	}
	return nil
}

func isMilestoneJSON(value json.RawMessage) bool {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return false
	}
	for _, key := range []string{"startDate", "endDate", "status"} {
		if _, ok := keys[key]; ok {
			return true
		}
	}
	return false
}
