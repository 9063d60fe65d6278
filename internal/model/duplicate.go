package model

import (
	"slices"

	"github.com/rotisserie/eris"
)

// Field keys reported in DuplicateCandidate.MatchedFields.
const (
	MatchName    = "name"
	MatchEmail   = "email"
	MatchCompany = "company"
)

// DuplicateCandidate is an unordered pair of same-type records whose
// composite similarity met the requested threshold.
type DuplicateCandidate struct {
	EntityType    EntityType      `json:"entity_type"`
	First         Entity          `json:"first"`
	Second        Entity          `json:"second"`
	Score         int             `json:"score"`
	MatchedFields map[string]bool `json:"matched_fields"`
}

// IDs returns the pair's record ids.
func (c DuplicateCandidate) IDs() (string, string) {
	return c.First.EntityID(), c.Second.EntityID()
}

// MergeRequest folds duplicate records into a primary record.
// FieldSelections maps a field name to the id of the record to copy it from.
type MergeRequest struct {
	PrimaryID       string            `json:"primary_id" validate:"required"`
	DuplicateIDs    []string          `json:"duplicate_ids"`
	EntityType      EntityType        `json:"entity_type" validate:"required,oneof=Lead Account Opportunity Case"`
	FieldSelections map[string]string `json:"field_selections,omitempty"`
}

// Validate checks required fields and that the primary is not also listed
// as a duplicate.
func (r MergeRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return eris.Wrapf(ErrInvalidInput, "merge request: %v", err)
	}
	if slices.Contains(r.DuplicateIDs, r.PrimaryID) {
		return eris.Wrapf(ErrInvalidInput, "merge request: primary %s listed as duplicate", r.PrimaryID)
	}
	return nil
}

// MergeResult reports what a merge did.
type MergeResult struct {
	Primary             Entity   `json:"primary"`
	DuplicatesProcessed int      `json:"duplicates_processed"`
	CopiedFields        []string `json:"copied_fields,omitempty"`
	SkippedFields       []string `json:"skipped_fields,omitempty"`
}
