// Package scoring computes a deterministic 0-100 quality score for leads.
package scoring

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-rules/internal/config"
	"github.com/sells-group/crm-rules/internal/model"
)

// MaxScore caps every lead score.
const MaxScore = 100

var defaultScorer = NewScorer(config.DefaultScoringConfig())

// Score rates a record with the default point table.
func Score(rec model.ScorableRecord) int {
	return defaultScorer.Score(rec)
}

// Breakdown is the per-component contribution to a lead score.
type Breakdown struct {
	Title   int `json:"title"`
	Revenue int `json:"revenue"`
	Source  int `json:"source"`
	Email   int `json:"email"`
	Phone   int `json:"phone"`
	Website int `json:"website"`
	Total   int `json:"total"`
}

// Scorer applies a configurable point table.
type Scorer struct {
	cfg    config.ScoringConfig
	titles []titleRule
}

type titleRule struct {
	keywords []string
	points   int
}

// NewScorer creates a Scorer. Title keywords are checked in order and the
// first group that matches wins.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{
		cfg: cfg,
		titles: []titleRule{
			{keywords: []string{"vp", "vice president"}, points: cfg.TitleVP},
			{keywords: []string{"director"}, points: cfg.TitleDirector},
			{keywords: []string{"manager"}, points: cfg.TitleManager},
			{keywords: []string{"ceo", "founder", "c-level"}, points: cfg.TitleCLevel},
		},
	}
}

// Score returns the capped total for rec.
func (s *Scorer) Score(rec model.ScorableRecord) int {
	return s.Breakdown(rec).Total
}

// Breakdown scores each component of rec. Total is clamped to [0, MaxScore].
func (s *Scorer) Breakdown(rec model.ScorableRecord) Breakdown {
	b := Breakdown{
		Title:   s.titlePoints(rec.Title),
		Revenue: s.revenuePoints(rec.AnnualRevenue),
		Source:  s.sourcePoints(rec.Source),
	}
	if strings.TrimSpace(rec.Email) != "" {
		b.Email = s.cfg.HasEmail
	}
	if strings.TrimSpace(rec.Phone) != "" {
		b.Phone = s.cfg.HasPhone
	}
	if strings.TrimSpace(rec.Website) != "" {
		b.Website = s.cfg.HasWebsite
	}

	total := b.Title + b.Revenue + b.Source + b.Email + b.Phone + b.Website
	b.Total = max(0, min(total, MaxScore))
	return b
}

func (s *Scorer) titlePoints(title string) int {
	t := strings.ToLower(title)
	if strings.TrimSpace(t) == "" {
		return 0
	}
	for _, r := range s.titles {
		for _, kw := range r.keywords {
			if strings.Contains(t, kw) {
				return r.points
			}
		}
	}
	return 0
}

func (s *Scorer) revenuePoints(revenue float64) int {
	switch {
	case revenue > 1_000_000:
		return s.cfg.RevenueOver1M
	case revenue > 500_000:
		return s.cfg.RevenueOver500K
	case revenue > 100_000:
		return s.cfg.RevenueOver100K
	default:
		return 0
	}
}

func (s *Scorer) sourcePoints(src model.LeadSource) int {
	switch model.ParseLeadSource(string(src)) {
	case model.SourceReferral:
		return s.cfg.SourceReferral
	case model.SourceEvent:
		return s.cfg.SourceEvent
	case model.SourceWebsite:
		return s.cfg.SourceWebsite
	case model.SourceColdCall:
		return s.cfg.SourceColdCall
	default:
		return 0
	}
}

// ValidateConfig checks that every point value is non-negative.
func ValidateConfig(c config.ScoringConfig) error {
	points := []struct {
		name string
		v    int
	}{
		{"title_vp", c.TitleVP},
		{"title_director", c.TitleDirector},
		{"title_manager", c.TitleManager},
		{"title_c_level", c.TitleCLevel},
		{"revenue_over_1m", c.RevenueOver1M},
		{"revenue_over_500k", c.RevenueOver500K},
		{"revenue_over_100k", c.RevenueOver100K},
		{"source_referral", c.SourceReferral},
		{"source_event", c.SourceEvent},
		{"source_website", c.SourceWebsite},
		{"source_cold_call", c.SourceColdCall},
		{"has_email", c.HasEmail},
		{"has_phone", c.HasPhone},
		{"has_website", c.HasWebsite},
	}

	var errs []string
	for _, p := range points {
		if p.v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", p.name))
		}
	}
	if len(errs) > 0 {
		return eris.Wrapf(model.ErrInvalidInput, "scoring: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
