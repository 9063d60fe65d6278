// Package merge folds duplicate records into a primary record.
package merge

import (
	"context"
	"maps"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/model"
)

// Store is the persistence the resolver needs.
type Store interface {
	GetEntity(ctx context.Context, t model.EntityType, id string) (model.Entity, error)
	SaveEntity(ctx context.Context, e model.Entity) error
	SoftDeleteEntity(ctx context.Context, t model.EntityType, id string) error
}

// Resolver applies merge requests.
type Resolver struct {
	store Store
}

// NewResolver creates a merge resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Merge copies the selected fields onto the primary, saves it once, and
// soft-deletes every duplicate.
//
// A missing or deleted primary aborts with model.ErrNotFound before any
// write. A selection whose source cannot be loaded, or whose value is empty,
// is skipped. Soft-delete failures do not stop the remaining deletes; they
// are returned as a *model.PartialFailure together with the result.
func (r *Resolver) Merge(ctx context.Context, req model.MergeRequest) (*model.MergeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(
		zap.String("entity_type", string(req.EntityType)),
		zap.String("primary_id", req.PrimaryID),
	)

	primary, err := r.store.GetEntity(ctx, req.EntityType, req.PrimaryID)
	if err != nil {
		return nil, eris.Wrap(err, "merge: load primary")
	}
	if primary.Deleted() {
		return nil, eris.Wrapf(model.ErrNotFound, "merge: primary %s %s is deleted", req.EntityType, req.PrimaryID)
	}

	result := &model.MergeResult{Primary: primary}
	sources := make(map[string]model.Entity)
	for _, field := range slices.Sorted(maps.Keys(req.FieldSelections)) {
		sourceID := req.FieldSelections[field]
		if sourceID == "" || sourceID == req.PrimaryID {
			continue
		}

		source, ok := sources[sourceID]
		if !ok {
			source, err = r.store.GetEntity(ctx, req.EntityType, sourceID)
			if err != nil {
				log.Warn("merge: source not loaded, skipping field",
					zap.String("field", field), zap.String("source_id", sourceID), zap.Error(err))
				result.SkippedFields = append(result.SkippedFields, field)
				continue
			}
			sources[sourceID] = source
		}

		value, known := source.Field(field)
		if !known || value == "" {
			result.SkippedFields = append(result.SkippedFields, field)
			continue
		}
		if err := primary.SetField(field, value); err != nil {
			log.Warn("merge: field not copied", zap.String("field", field), zap.Error(err))
			result.SkippedFields = append(result.SkippedFields, field)
			continue
		}
		result.CopiedFields = append(result.CopiedFields, field)
	}

	if err := r.store.SaveEntity(ctx, primary); err != nil {
		return nil, eris.Wrap(err, "merge: save primary")
	}

	var failures []error
	for _, id := range req.DuplicateIDs {
		if err := r.store.SoftDeleteEntity(ctx, req.EntityType, id); err != nil {
			log.Warn("merge: soft delete failed", zap.String("duplicate_id", id), zap.Error(err))
			failures = append(failures, eris.Wrapf(err, "soft delete %s", id))
			continue
		}
		result.DuplicatesProcessed++
	}

	log.Info("merge: complete",
		zap.Int("copied", len(result.CopiedFields)),
		zap.Int("skipped", len(result.SkippedFields)),
		zap.Int("duplicates", result.DuplicatesProcessed),
	)
	return result, model.NewPartialFailure("merge", failures)
}
