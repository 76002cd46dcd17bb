// Package history filters, renders and produces plan audit entries.
package history

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Ramsey-B/fern/pkg/models"
)

// FilterAll matches every change type.
const FilterAll = "all"

var labels = map[models.ChangeType]string{
	models.ChangeStatusChanged:       "Status changed",
	models.ChangeDatesChanged:        "Dates changed",
	models.ChangeMilestoneAdded:      "Milestone added",
	models.ChangeMilestoneDeleted:    "Milestone deleted",
	models.ChangeProjectRenamed:      "Project renamed",
	models.ChangeProjectDatesChanged: "Project dates changed",
}

// Filter keeps entries of the given change type. Empty or "all" keeps everything.
func Filter(entries []models.HistoryEntry, changeType string) ([]models.HistoryEntry, error) {
	changeType = strings.TrimSpace(changeType)
	if changeType == "" || changeType == FilterAll {
		return entries, nil
	}
	if !models.ChangeType(changeType).IsValid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown change type '%s'", changeType)).
			AddMetaValue("change_type", changeType)
	}
	return ectolinq.Filter(entries, func(e models.HistoryEntry) bool {
		return e.ChangeType == models.ChangeType(changeType)
	}), nil
}

type Presentation string

const (
	// PresentationTransition shows old -> new.
	PresentationTransition Presentation = "transition"
	// PresentationValue shows only the new value, e.g. a created milestone.
	PresentationValue Presentation = "value"
	// PresentationRemoved shows only the old value, e.g. a deleted milestone.
	PresentationRemoved Presentation = "removed"
	PresentationNone    Presentation = "none"
)

type Rendered struct {
	ID            int64             `json:"id"`
	ChangeType    models.ChangeType `json:"change_type"`
	Label         string            `json:"label"`
	MilestoneName string            `json:"milestone_name,omitempty"`
	Presentation  Presentation      `json:"presentation"`
	From          string            `json:"from,omitempty"`
	To            string            `json:"to,omitempty"`
	Summary       string            `json:"summary"`
	Justification string            `json:"justification,omitempty"`
	ChangedBy     string            `json:"changed_by"`
	ChangedAt     time.Time         `json:"changed_at"`
}

func Label(changeType models.ChangeType) string {
	if label, ok := labels[changeType]; ok {
		return label
	}
	return string(changeType)
}

// Render formats an entry for display.
func Render(entry models.HistoryEntry) Rendered {
	rendered := Rendered{
		ID:            entry.ID,
		ChangeType:    entry.ChangeType,
		Label:         Label(entry.ChangeType),
		MilestoneName: deref(entry.MilestoneName),
		Justification: strings.TrimSpace(deref(entry.Justification)),
		ChangedBy:     entry.ChangedBy,
		ChangedAt:     entry.ChangedAt,
	}

	oldValue, newValue := deref(entry.OldValue), deref(entry.NewValue)
	switch {
	case entry.OldValue != nil && entry.NewValue != nil:
		rendered.Presentation = PresentationTransition
		rendered.From, rendered.To = oldValue, newValue
	case entry.NewValue != nil:
		rendered.Presentation = PresentationValue
		rendered.To = newValue
	case entry.OldValue != nil:
		rendered.Presentation = PresentationRemoved
		rendered.From = oldValue
	default:
		rendered.Presentation = PresentationNone
	}

	var b strings.Builder
	b.WriteString(rendered.Label)
	if rendered.MilestoneName != "" {
		b.WriteString(" (")
		b.WriteString(rendered.MilestoneName)
		b.WriteString(")")
	}
	switch rendered.Presentation {
	case PresentationTransition:
		fmt.Fprintf(&b, ": %s → %s", rendered.From, rendered.To)
	case PresentationValue:
		fmt.Fprintf(&b, ": %s", rendered.To)
	case PresentationRemoved:
		fmt.Fprintf(&b, ": %s", rendered.From)
	}
	if rendered.Justification != "" {
		fmt.Fprintf(&b, " | %s", rendered.Justification)
	}
	rendered.Summary = b.String()

	return rendered
}

// RenderAll filters then renders entries, newest first as stored.
func RenderAll(entries []models.HistoryEntry, changeType string) ([]Rendered, error) {
	filtered, err := Filter(entries, changeType)
	if err != nil {
		return nil, err
	}
	return ectolinq.Map(filtered, Render), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
