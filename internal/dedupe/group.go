package dedupe

import (
	"slices"

	"github.com/sells-group/crm-rules/internal/model"
)

// Group is a connected set of records linked by candidate pairs.
type Group struct {
	EntityType model.EntityType           `json:"entity_type"`
	IDs        []string                   `json:"ids"`
	BestScore  int                        `json:"best_score"`
	Pairs      []model.DuplicateCandidate `json:"pairs"`
}

// GroupCandidates folds candidate pairs into connected groups. Candidates
// must already be in ranked order; groups are returned in the order their
// first pair appears, so the group with the best pair comes first.
func GroupCandidates(candidates []model.DuplicateCandidate) []Group {
	parent := map[string]string{}
	var find func(string) string
	find = func(id string) string {
		p, ok := parent[id]
		if !ok {
			parent[id] = id
			return id
		}
		if p == id {
			return id
		}
		root := find(p)
		parent[id] = root
		return root
	}

	key := func(t model.EntityType, id string) string { return string(t) + "/" + id }

	for _, c := range candidates {
		a, b := c.IDs()
		ra, rb := find(key(c.EntityType, a)), find(key(c.EntityType, b))
		if ra != rb {
			parent[rb] = ra
		}
	}

	index := map[string]int{}
	var groups []Group
	for _, c := range candidates {
		a, b := c.IDs()
		root := find(key(c.EntityType, a))
		gi, ok := index[root]
		if !ok {
			gi = len(groups)
			index[root] = gi
			groups = append(groups, Group{EntityType: c.EntityType, BestScore: c.Score})
		}
		g := &groups[gi]
		g.Pairs = append(g.Pairs, c)
		g.BestScore = max(g.BestScore, c.Score)
		for _, id := range []string{a, b} {
			if !slices.Contains(g.IDs, id) {
				g.IDs = append(g.IDs, id)
			}
		}
	}
	return groups
}
