package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/resilience"
)

// ScoreField is the custom Lead field that receives computed scores.
const ScoreField = "Lead_Score__c"

// Lead represents a Salesforce Lead record.
type Lead struct {
	ID            string  `json:"Id" salesforce:"Id"`
	FirstName     string  `json:"FirstName" salesforce:"FirstName"`
	LastName      string  `json:"LastName" salesforce:"LastName"`
	Company       string  `json:"Company" salesforce:"Company"`
	Title         string  `json:"Title" salesforce:"Title"`
	Email         string  `json:"Email" salesforce:"Email"`
	Phone         string  `json:"Phone" salesforce:"Phone"`
	Website       string  `json:"Website" salesforce:"Website"`
	LeadSource    string  `json:"LeadSource" salesforce:"LeadSource"`
	Status        string  `json:"Status" salesforce:"Status"`
	Industry      string  `json:"Industry" salesforce:"Industry"`
	AnnualRevenue float64 `json:"AnnualRevenue" salesforce:"AnnualRevenue"`
	City          string  `json:"City" salesforce:"City"`
	State         string  `json:"State" salesforce:"State"`
	Country       string  `json:"Country" salesforce:"Country"`
	Description   string  `json:"Description" salesforce:"Description"`
	IsConverted   bool    `json:"IsConverted" salesforce:"IsConverted"`
}

// leadFields are the SOQL fields selected for Lead queries.
var leadFields = []string{
	"Id", "FirstName", "LastName", "Company", "Title", "Email", "Phone",
	"Website", "LeadSource", "Status", "Industry", "AnnualRevenue",
	"City", "State", "Country", "Description", "IsConverted",
}

// leadStatuses maps Salesforce's default Lead status picklist onto ours.
var leadStatuses = map[string]model.LeadStatus{
	"open - not contacted":   model.LeadNew,
	"working - contacted":    model.LeadContacted,
	"closed - converted":     model.LeadConverted,
	"closed - not converted": model.LeadUnqualified,
}

// ToModel maps the record onto a CRM lead. The Salesforce Id becomes the
// lead id so re-imports overwrite rather than duplicate.
func (l Lead) ToModel() *model.Lead {
	return &model.Lead{
		Meta:          model.Meta{ID: l.ID},
		FirstName:     l.FirstName,
		LastName:      l.LastName,
		Company:       l.Company,
		Title:         l.Title,
		Email:         l.Email,
		Phone:         l.Phone,
		Website:       l.Website,
		Source:        model.ParseLeadSource(l.LeadSource),
		Status:        l.status(),
		Industry:      l.Industry,
		AnnualRevenue: l.AnnualRevenue,
		City:          l.City,
		State:         l.State,
		Country:       l.Country,
		Description:   l.Description,
	}
}

func (l Lead) status() model.LeadStatus {
	if l.IsConverted {
		return model.LeadConverted
	}
	if s, ok := leadStatuses[strings.ToLower(strings.TrimSpace(l.Status))]; ok {
		return s
	}
	switch s := model.LeadStatus(strings.TrimSpace(l.Status)); s {
	case model.LeadNew, model.LeadContacted, model.LeadQualified, model.LeadUnqualified, model.LeadConverted:
		return s
	}
	return model.LeadNew
}

// FetchLeads queries up to limit non-deleted leads, newest first, retrying
// transient failures. A limit <= 0 fetches every lead.
func FetchLeads(ctx context.Context, c Client, limit int) ([]*model.Lead, error) {
	soql := fmt.Sprintf("SELECT %s FROM Lead ORDER BY CreatedDate DESC", strings.Join(leadFields, ", "))
	if limit > 0 {
		soql += fmt.Sprintf(" LIMIT %d", limit)
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("salesforce", "fetch leads")
	rows, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]Lead, error) {
		var rows []Lead
		if err := c.Query(ctx, soql, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: fetch leads")
	}

	leads := make([]*model.Lead, 0, len(rows))
	for _, r := range rows {
		leads = append(leads, r.ToModel())
	}
	return leads, nil
}

// FindLeadByEmail returns the first lead with the given email, or nil.
func FindLeadByEmail(ctx context.Context, c Client, email string) (*model.Lead, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE Email = '%s' LIMIT 1",
		strings.Join(leadFields, ", "),
		escapeSoql(email),
	)

	var rows []Lead
	if err := c.Query(ctx, soql, &rows); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead by email %s", email))
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].ToModel(), nil
}

// UpdateLeadScore writes a single score to ScoreField.
func UpdateLeadScore(ctx context.Context, c Client, leadID string, score int) error {
	if leadID == "" {
		return eris.New("sf: lead id is required")
	}
	if err := c.UpdateOne(ctx, "Lead", leadID, map[string]any{ScoreField: score}); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update lead score %s", leadID))
	}
	return nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
