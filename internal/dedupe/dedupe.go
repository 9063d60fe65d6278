// Package dedupe finds near-duplicate records by fuzzy field similarity.
package dedupe

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/similarity"
)

// Field weights in the composite score.
const (
	nameWeight    = 0.4
	emailWeight   = 0.4
	companyWeight = 0.2
)

// FindDuplicates compares every same-type pair of records on one goroutine.
func FindDuplicates(records []model.Entity, threshold int) []model.DuplicateCandidate {
	return (&Detector{Workers: 1}).Find(records, threshold)
}

// Detector runs the pairwise scan across Workers goroutines. Row i of the
// i<j comparison matrix belongs to worker i%Workers, and each worker keeps
// its own result slice until the final merge.
type Detector struct {
	Workers int
}

type scored struct {
	i, j int
	cand model.DuplicateCandidate
}

// fields is the comparable text of one record, extracted once per scan.
type fields struct {
	name, email, company string
}

// Find returns candidate pairs whose composite score is at least threshold,
// ordered by score descending and then by (i, j). Records are only read.
func (d *Detector) Find(records []model.Entity, threshold int) []model.DuplicateCandidate {
	threshold = max(0, min(threshold, 100))
	workers := max(1, d.Workers)
	if workers > len(records) {
		workers = max(1, len(records))
	}
	start := time.Now()

	extracted := make([]fields, len(records))
	for i, r := range records {
		extracted[i] = extract(r)
	}

	partials := make([][]scored, workers)
	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			var out []scored
			for i := w; i < len(records); i += workers {
				for j := i + 1; j < len(records); j++ {
					if records[i].Type() != records[j].Type() {
						continue
					}
					if c, ok := compare(extracted[i], extracted[j], threshold); ok {
						c.EntityType = records[i].Type()
						c.First = records[i]
						c.Second = records[j]
						out = append(out, scored{i: i, j: j, cand: c})
					}
				}
			}
			partials[w] = out
			return nil
		})
	}
	_ = g.Wait()

	all := slices.Concat(partials...)
	slices.SortFunc(all, func(a, b scored) int {
		return cmp.Or(
			cmp.Compare(b.cand.Score, a.cand.Score),
			cmp.Compare(a.i, b.i),
			cmp.Compare(a.j, b.j),
		)
	})

	result := make([]model.DuplicateCandidate, len(all))
	for k, s := range all {
		result[k] = s.cand
	}

	zap.L().Debug("dedupe: scan complete",
		zap.Int("records", len(records)),
		zap.Int("workers", workers),
		zap.Int("candidates", len(result)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

func extract(e model.Entity) fields {
	name, _ := e.Field("name")
	if strings.TrimSpace(name) == "" {
		name, _ = e.Field("title")
	}
	email, _ := e.Field("email")
	company, _ := e.Field("company")
	return fields{name: name, email: email, company: company}
}

// compare scores one pair. Email and company only take part when both
// records carry them; the weights of the fields that take part are
// rescaled to sum to one, so a pair with all three fields scores
// 0.4*name + 0.4*email + 0.2*company.
func compare(a, b fields, threshold int) (model.DuplicateCandidate, bool) {
	nameScore := similarity.Score(a.name, b.name)
	weighted := nameWeight * float64(nameScore)
	total := nameWeight

	var emailScore, companyScore int
	if present(a.email) && present(b.email) {
		emailScore = similarity.Score(a.email, b.email)
		weighted += emailWeight * float64(emailScore)
		total += emailWeight
	}
	if present(a.company) && present(b.company) {
		companyScore = similarity.Score(a.company, b.company)
		weighted += companyWeight * float64(companyScore)
		total += companyWeight
	}

	score := int(math.Round(weighted / total))
	if score < threshold {
		return model.DuplicateCandidate{}, false
	}
	return model.DuplicateCandidate{
		Score: score,
		MatchedFields: map[string]bool{
			model.MatchName:    nameScore >= threshold,
			model.MatchEmail:   emailScore >= threshold,
			model.MatchCompany: companyScore >= threshold,
		},
	}, true
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}
