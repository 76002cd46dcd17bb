// Package importer reads plan definitions from YAML files for bulk creation.
package importer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/internal/services/plans"
	"github.com/Ramsey-B/fern/pkg/models"
)

// File is the top-level document:
//
//	owner: ada
//	owner_name: Ada Lovelace
//	plans:
//	  - project: Apollo
//	    start_date: 2025-01-01
//	    end_date: 2025-06-30
//	    metadata: {lead: ada}
//	    milestones:
//	      Design: {start_date: 2025-01-01, end_date: 2025-01-31, status: On Track}
type File struct {
	Owner     string     `yaml:"owner"`
	OwnerName string     `yaml:"owner_name"`
	Plans     []Document `yaml:"plans"`
}

type Document struct {
	Project    string                       `yaml:"project"`
	StartDate  string                       `yaml:"start_date"`
	EndDate    string                       `yaml:"end_date"`
	Metadata   map[string]any               `yaml:"metadata"`
	Milestones map[string]MilestoneDocument `yaml:"milestones"`
}

type MilestoneDocument struct {
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
	Status    string `yaml:"status"`
}

// Load reads and parses path. Documents are not validated here; Service.Create does that.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if file.Owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if file.OwnerName == "" {
		file.OwnerName = file.Owner
	}
	return &file, nil
}

// Input converts the document into the service's create input.
func (d Document) Input() plans.PlanInput {
	fields := models.NewPlanFields()
	for key, value := range d.Metadata {
		fields.Metadata[key] = value
	}
	for name, m := range d.Milestones {
		fields.Milestones[name] = models.Milestone{
			Name:      name,
			StartDate: m.StartDate,
			EndDate:   m.EndDate,
			Status:    models.MilestoneStatus(m.Status),
		}
	}
	return plans.PlanInput{
		Project:   d.Project,
		StartDate: d.StartDate,
		EndDate:   d.EndDate,
		Fields:    fields,
	}
}
