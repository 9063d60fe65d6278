package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// LeadSource is where a lead came from.
type LeadSource string

const (
	SourceWebsite  LeadSource = "Website"
	SourceReferral LeadSource = "Referral"
	SourceColdCall LeadSource = "ColdCall"
	SourceEvent    LeadSource = "Event"
	SourceOther    LeadSource = "Other"
)

// ParseLeadSource normalizes a free-form source label. Unrecognized labels
// map to SourceOther.
func ParseLeadSource(s string) LeadSource {
	key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.TrimSpace(s)))
	switch key {
	case "website", "web":
		return SourceWebsite
	case "referral":
		return SourceReferral
	case "coldcall":
		return SourceColdCall
	case "event", "tradeshow":
		return SourceEvent
	default:
		return SourceOther
	}
}

// LeadStatus is the qualification state of a lead.
type LeadStatus string

const (
	LeadNew         LeadStatus = "New"
	LeadContacted   LeadStatus = "Contacted"
	LeadQualified   LeadStatus = "Qualified"
	LeadUnqualified LeadStatus = "Unqualified"
	LeadConverted   LeadStatus = "Converted"
)

// Lead is a prospective customer contact.
type Lead struct {
	Meta
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Company       string     `json:"company,omitempty"`
	Title         string     `json:"title,omitempty"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Website       string     `json:"website,omitempty"`
	Source        LeadSource `json:"source,omitempty"`
	Status        LeadStatus `json:"status,omitempty"`
	Industry      string     `json:"industry,omitempty"`
	AnnualRevenue float64    `json:"annual_revenue,omitempty"`
	City          string     `json:"city,omitempty"`
	State         string     `json:"state,omitempty"`
	Country       string     `json:"country,omitempty"`
	Description   string     `json:"description,omitempty"`
	Score         int        `json:"score"`

	// ConvertedAccountID links a converted lead to the account it became.
	ConvertedAccountID string `json:"converted_account_id,omitempty"`
}

var leadFields = withMeta(fieldTable[Lead]{
	"name":        {get: func(l *Lead) string { return l.FullName() }},
	"first_name":  textField(func(l *Lead) *string { return &l.FirstName }),
	"last_name":   textField(func(l *Lead) *string { return &l.LastName }),
	"company":     textField(func(l *Lead) *string { return &l.Company }),
	"title":       textField(func(l *Lead) *string { return &l.Title }),
	"email":       textField(func(l *Lead) *string { return &l.Email }),
	"phone":       textField(func(l *Lead) *string { return &l.Phone }),
	"website":     textField(func(l *Lead) *string { return &l.Website }),
	"industry":    textField(func(l *Lead) *string { return &l.Industry }),
	"city":        textField(func(l *Lead) *string { return &l.City }),
	"state":       textField(func(l *Lead) *string { return &l.State }),
	"country":     textField(func(l *Lead) *string { return &l.Country }),
	"description": textField(func(l *Lead) *string { return &l.Description }),
	"source": {
		get: func(l *Lead) string { return string(l.Source) },
		set: func(l *Lead, v any) error {
			l.Source = ParseLeadSource(Text(v))
			return nil
		},
	},
	"status": {
		get: func(l *Lead) string { return string(l.Status) },
		set: func(l *Lead, v any) error {
			l.Status = LeadStatus(Text(v))
			return nil
		},
	},
	"annual_revenue": numberField(func(l *Lead) *float64 { return &l.AnnualRevenue }),
	"score": {
		get: func(l *Lead) string { return formatNumber(float64(l.Score)) },
		set: func(l *Lead, v any) error {
			f, err := ToFloat(v)
			if err != nil {
				return err
			}
			if f < 0 || f > 100 {
				return eris.Wrapf(ErrInvalidInput, "score %v out of range", f)
			}
			l.Score = int(f)
			return nil
		},
	},
}, func(l *Lead) *Meta { return &l.Meta })

// FullName joins first and last name.
func (l *Lead) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(l.FirstName) + " " + strings.TrimSpace(l.LastName))
}

// Scorable projects the lead onto the fields used by lead scoring.
func (l *Lead) Scorable() ScorableRecord {
	return ScorableRecord{
		Title:         l.Title,
		AnnualRevenue: l.AnnualRevenue,
		Source:        l.Source,
		Email:         l.Email,
		Phone:         l.Phone,
		Website:       l.Website,
	}
}

func (l *Lead) Type() EntityType { return EntityLead }

func (l *Lead) DisplayName() string {
	if n := l.FullName(); n != "" {
		return n
	}
	if l.Company != "" {
		return l.Company
	}
	return l.Email
}

func (l *Lead) Field(name string) (string, bool) { return leadFields.get(l, name) }

func (l *Lead) SetField(name string, value any) error { return leadFields.set(l, name, value) }

// ScorableRecord is the subset of lead fields relevant to quality scoring.
type ScorableRecord struct {
	Title         string     `json:"title,omitempty"`
	AnnualRevenue float64    `json:"annual_revenue,omitempty"`
	Source        LeadSource `json:"source,omitempty"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Website       string     `json:"website,omitempty"`
}
