// Package salesforce reads leads from Salesforce and writes lead scores back.
package salesforce

import (
	"context"
	"maps"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client is the slice of the Salesforce REST API that lead import needs.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	UpdateOne(ctx context.Context, object, id string, fields map[string]any) error
	UpdateCollection(ctx context.Context, object string, records []CollectionRecord) ([]CollectionResult, error)
}

// CollectionRecord is one record of a collection update.
type CollectionRecord struct {
	ID     string         `json:"Id"`
	Fields map[string]any `json:"fields"`
}

// CollectionResult reports one record of a collection update.
type CollectionResult struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crm",
		Subsystem: "salesforce",
		Name:      "requests_total",
		Help:      "Salesforce API calls by operation and status",
	},
	[]string{"op", "status"},
)

// Option configures a client built by NewClient or Connect.
type Option func(*restClient)

// WithRateLimit caps API calls per second. Burst is the whole part of rps,
// at least 1. Non-positive rates leave the client unthrottled.
func WithRateLimit(rps float64) Option {
	return func(c *restClient) {
		if rps <= 0 {
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// Creds are JWT bearer-flow credentials for a connected app.
type Creds struct {
	LoginURL   string
	Username   string
	ClientID   string
	PrivateKey string
}

// Connect authenticates and returns a Client.
func Connect(creds Creds, opts ...Option) (Client, error) {
	if creds.ClientID == "" {
		return nil, eris.New("sf: client id is required (CRM_SALESFORCE_CLIENT_ID)")
	}
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ClientID,
		ConsumerRSAPem: creds.PrivateKey,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: authenticate")
	}
	return NewClient(sf, opts...), nil
}

// NewClient wraps an initialised go-salesforce instance.
func NewClient(sf *salesforce.Salesforce, opts ...Option) Client {
	c := &restClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// restClient adapts go-salesforce, which takes no context; ctx only bounds the
// limiter wait.
type restClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// call waits for the limiter, runs fn, and counts the outcome under op.
func (c *restClient) call(ctx context.Context, op string, fn func() error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			requestsTotal.WithLabelValues(op, "throttled").Inc()
			return eris.Wrapf(err, "sf: %s: rate limit", op)
		}
	}
	if err := fn(); err != nil {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return err
	}
	requestsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func (c *restClient) Query(ctx context.Context, soql string, out any) error {
	return c.call(ctx, "query", func() error {
		return eris.Wrap(c.sf.Query(soql, out), "sf: query")
	})
}

func (c *restClient) UpdateOne(ctx context.Context, object, id string, fields map[string]any) error {
	return c.call(ctx, "update", func() error {
		return eris.Wrapf(c.sf.UpdateOne(object, withID(id, fields)), "sf: update %s %s", object, id)
	})
}

func (c *restClient) UpdateCollection(ctx context.Context, object string, records []CollectionRecord) ([]CollectionResult, error) {
	payload := make([]map[string]any, len(records))
	for i, r := range records {
		payload[i] = withID(r.ID, r.Fields)
	}

	var out []CollectionResult
	err := c.call(ctx, "update_collection", func() error {
		res, err := c.sf.UpdateCollection(object, payload, maxBatchSize)
		if err != nil {
			return eris.Wrapf(err, "sf: update collection %s", object)
		}
		out = make([]CollectionResult, 0, len(res.Results))
		for _, r := range res.Results {
			cr := CollectionResult{ID: r.Id, Success: r.Success}
			for _, e := range r.Errors {
				cr.Errors = append(cr.Errors, e.Message)
			}
			out = append(out, cr)
		}
		return nil
	})
	return out, err
}

// withID copies fields and adds the record Id; the caller's map is untouched.
func withID(id string, fields map[string]any) map[string]any {
	rec := make(map[string]any, len(fields)+1)
	maps.Copy(rec, fields)
	rec["Id"] = id
	return rec
}
