// Package catalog loads assignment rules and workflows from a YAML file and
// applies them to a store.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crm-rules/internal/model"
)

// Catalog is the contents of a rules file:
//
//	assignment_rules:
//	  - id: referral-to-a
//	    name: Referrals
//	    entity_type: Lead
//	    priority: 1
//	    criteria_field: source
//	    criteria_operator: Equals
//	    criteria_value: Referral
//	    assigned_to: rep-a
//	    is_active: true
//	workflows:
//	  - id: follow-up
//	    name: Follow up new leads
//	    entity_type: Lead
//	    trigger_type: onCreate
//	    is_active: true
//	    actions:
//	      - type: createTask
//	        config: {priority: High}
//
// Every entry needs an id so reloading the same file updates in place.
type Catalog struct {
	AssignmentRules []model.AssignmentRule `yaml:"assignment_rules"`
	Workflows       []model.Workflow       `yaml:"workflows"`
}

// Store is the persistence Apply writes to.
type Store interface {
	SaveAssignmentRule(ctx context.Context, rule *model.AssignmentRule) error
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrapf(model.ErrInvalidInput, "catalog: parse: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every entry and normalizes operator spellings. All
// problems are reported together.
func (c *Catalog) Validate() error {
	var errs []error
	ruleIDs := make(map[string]bool, len(c.AssignmentRules))
	for i := range c.AssignmentRules {
		r := &c.AssignmentRules[i]
		if err := checkID("assignment rule", r.ID, i, ruleIDs); err != nil {
			errs = append(errs, err)
		}
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	wfIDs := make(map[string]bool, len(c.Workflows))
	for i := range c.Workflows {
		wf := &c.Workflows[i]
		if err := checkID("workflow", wf.ID, i, wfIDs); err != nil {
			errs = append(errs, err)
		}
		if err := wf.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return eris.Wrapf(model.ErrInvalidInput, "catalog: %d problem(s): %v", len(errs), errors.Join(errs...))
	}
	return nil
}

func checkID(kind, id string, index int, seen map[string]bool) error {
	if id == "" {
		return eris.Wrapf(model.ErrInvalidInput, "%s #%d: id is required", kind, index+1)
	}
	if seen[id] {
		return eris.Wrapf(model.ErrInvalidInput, "%s %s: duplicate id", kind, id)
	}
	seen[id] = true
	return nil
}

// Applied counts what Apply saved.
type Applied struct {
	AssignmentRules int `json:"assignment_rules"`
	Workflows       int `json:"workflows"`
}

// Apply upserts every rule and workflow. It stops at the first store error.
func Apply(ctx context.Context, s Store, c *Catalog) (Applied, error) {
	var out Applied
	for i := range c.AssignmentRules {
		if err := s.SaveAssignmentRule(ctx, &c.AssignmentRules[i]); err != nil {
			return out, eris.Wrapf(err, "catalog: save assignment rule %s", c.AssignmentRules[i].ID)
		}
		out.AssignmentRules++
	}
	for i := range c.Workflows {
		if err := s.SaveWorkflow(ctx, &c.Workflows[i]); err != nil {
			return out, eris.Wrapf(err, "catalog: save workflow %s", c.Workflows[i].ID)
		}
		out.Workflows++
	}
	zap.L().Info("catalog: applied",
		zap.Int("assignment_rules", out.AssignmentRules),
		zap.Int("workflows", out.Workflows),
	)
	return out, nil
}
