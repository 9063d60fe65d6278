package salesforce

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
)

// maxBatchSize is the per-request record cap of the sObject Collections API.
const maxBatchSize = 200

// ScoreUpdate is a computed score for one Salesforce lead.
type ScoreUpdate struct {
	ID    string
	Score int
}

// BulkUpdateLeadScores writes ScoreField for each update, maxBatchSize leads
// per request. On a failed batch it stops and returns the results gathered so
// far with the error.
func BulkUpdateLeadScores(ctx context.Context, c Client, updates []ScoreUpdate) ([]CollectionResult, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	results := make([]CollectionResult, 0, len(updates))
	offset := 0
	for batch := range slices.Chunk(updates, maxBatchSize) {
		records := make([]CollectionRecord, 0, len(batch))
		for _, u := range batch {
			records = append(records, CollectionRecord{ID: u.ID, Fields: map[string]any{ScoreField: u.Score}})
		}

		res, err := c.UpdateCollection(ctx, "Lead", records)
		if err != nil {
			return results, eris.Wrapf(err, "sf: bulk update lead scores batch %d-%d", offset, offset+len(batch))
		}
		results = append(results, res...)
		offset += len(batch)
	}
	return results, nil
}
