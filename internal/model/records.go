package model

import "time"

// Account is a customer organization.
type Account struct {
	Meta
	Name           string  `json:"name"`
	Industry       string  `json:"industry,omitempty"`
	Website        string  `json:"website,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	Email          string  `json:"email,omitempty"`
	AccountType    string  `json:"account_type,omitempty"`
	AnnualRevenue  float64 `json:"annual_revenue,omitempty"`
	Employees      float64 `json:"employees,omitempty"`
	BillingCity    string  `json:"billing_city,omitempty"`
	BillingState   string  `json:"billing_state,omitempty"`
	BillingCountry string  `json:"billing_country,omitempty"`
	Description    string  `json:"description,omitempty"`
}

var accountFields = withMeta(fieldTable[Account]{
	"name":            textField(func(a *Account) *string { return &a.Name }),
	"industry":        textField(func(a *Account) *string { return &a.Industry }),
	"website":         textField(func(a *Account) *string { return &a.Website }),
	"phone":           textField(func(a *Account) *string { return &a.Phone }),
	"email":           textField(func(a *Account) *string { return &a.Email }),
	"account_type":    textField(func(a *Account) *string { return &a.AccountType }),
	"billing_city":    textField(func(a *Account) *string { return &a.BillingCity }),
	"billing_state":   textField(func(a *Account) *string { return &a.BillingState }),
	"billing_country": textField(func(a *Account) *string { return &a.BillingCountry }),
	"description":     textField(func(a *Account) *string { return &a.Description }),
	"annual_revenue":  numberField(func(a *Account) *float64 { return &a.AnnualRevenue }),
	"employees":       numberField(func(a *Account) *float64 { return &a.Employees }),
}, func(a *Account) *Meta { return &a.Meta })

func (a *Account) Type() EntityType { return EntityAccount }

func (a *Account) DisplayName() string { return a.Name }

func (a *Account) Field(name string) (string, bool) { return accountFields.get(a, name) }

func (a *Account) SetField(name string, value any) error { return accountFields.set(a, name, value) }

// Opportunity is a potential deal with an account.
type Opportunity struct {
	Meta
	Name        string     `json:"name"`
	AccountID   string     `json:"account_id,omitempty"`
	Amount      float64    `json:"amount,omitempty"`
	Stage       string     `json:"stage,omitempty"`
	Probability float64    `json:"probability,omitempty"`
	CloseDate   *time.Time `json:"close_date,omitempty"`
	LeadSource  LeadSource `json:"lead_source,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Default stage for opportunities created from lead conversion.
const StageProspecting = "Prospecting"

var opportunityFields = withMeta(fieldTable[Opportunity]{
	"name":        textField(func(o *Opportunity) *string { return &o.Name }),
	"account_id":  textField(func(o *Opportunity) *string { return &o.AccountID }),
	"stage":       textField(func(o *Opportunity) *string { return &o.Stage }),
	"description": textField(func(o *Opportunity) *string { return &o.Description }),
	"amount":      numberField(func(o *Opportunity) *float64 { return &o.Amount }),
	"probability": numberField(func(o *Opportunity) *float64 { return &o.Probability }),
	"close_date":  dateField(func(o *Opportunity) **time.Time { return &o.CloseDate }),
	"lead_source": {
		get: func(o *Opportunity) string { return string(o.LeadSource) },
		set: func(o *Opportunity, v any) error {
			o.LeadSource = ParseLeadSource(Text(v))
			return nil
		},
	},
}, func(o *Opportunity) *Meta { return &o.Meta })

func (o *Opportunity) Type() EntityType { return EntityOpportunity }

func (o *Opportunity) DisplayName() string { return o.Name }

func (o *Opportunity) Field(name string) (string, bool) { return opportunityFields.get(o, name) }

func (o *Opportunity) SetField(name string, value any) error {
	return opportunityFields.set(o, name, value)
}

// Case is a customer support ticket.
type Case struct {
	Meta
	Subject      string `json:"subject"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status,omitempty"`
	Priority     string `json:"priority,omitempty"`
	Origin       string `json:"origin,omitempty"`
	AccountID    string `json:"account_id,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

var caseFields = withMeta(fieldTable[Case]{
	"subject":     textField(func(c *Case) *string { return &c.Subject }),
	"title":       textField(func(c *Case) *string { return &c.Subject }),
	"description": textField(func(c *Case) *string { return &c.Description }),
	"status":      textField(func(c *Case) *string { return &c.Status }),
	"priority":    textField(func(c *Case) *string { return &c.Priority }),
	"origin":      textField(func(c *Case) *string { return &c.Origin }),
	"account_id":  textField(func(c *Case) *string { return &c.AccountID }),
	"email":       textField(func(c *Case) *string { return &c.ContactEmail }),
}, func(c *Case) *Meta { return &c.Meta })

func (c *Case) Type() EntityType { return EntityCase }

func (c *Case) DisplayName() string { return c.Subject }

func (c *Case) Field(name string) (string, bool) { return caseFields.get(c, name) }

func (c *Case) SetField(name string, value any) error { return caseFields.set(c, name, value) }
