package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/audit"
	"github.com/sells-group/crm-rules/internal/intake"
	"github.com/sells-group/crm-rules/internal/notify"
	"github.com/sells-group/crm-rules/internal/store"
	"github.com/sells-group/crm-rules/internal/workflow"
	sfpkg "github.com/sells-group/crm-rules/pkg/salesforce"
)

// initStore opens the configured store. Callers migrate and close it.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initSalesforce() (sfpkg.Client, error) {
	if err := cfg.Validate("salesforce"); err != nil {
		return nil, err
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	return sfpkg.Connect(sfpkg.Creds{
		LoginURL:   cfg.Salesforce.LoginURL,
		Username:   cfg.Salesforce.Username,
		ClientID:   cfg.Salesforce.ClientID,
		PrivateKey: string(pemData),
	}, sfpkg.WithRateLimit(cfg.Salesforce.RateLimit))
}

// crmEnv holds the store, workflow engine, dispatcher, and lead service used
// by the lead, workflow, and serve commands.
type crmEnv struct {
	Store      store.Store
	Engine     *workflow.Engine
	Dispatcher *workflow.Dispatcher
	Intake     *intake.Service
}

// Close drains queued workflow events, then releases the store.
func (e *crmEnv) Close() {
	if e.Dispatcher != nil {
		if err := e.Dispatcher.Close(); err != nil {
			zap.L().Warn("dispatcher close", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv wires the store, notifier, engine, dispatcher, and lead service.
// The dispatcher lives as long as ctx; callers should defer env.Close().
func initEnv(ctx context.Context) (*crmEnv, error) {
	for _, section := range []string{"workflow", "notify"} {
		if err := cfg.Validate(section); err != nil {
			return nil, err
		}
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	n, err := notify.New(cfg.Notify)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return newEnv(ctx, st, n), nil
}

// newEnv builds the environment on an opened store.
func newEnv(ctx context.Context, st store.Store, n notify.Notifier) *crmEnv {
	engine := workflow.NewEngine(st,
		workflow.WithNotifier(n),
		workflow.WithDefaultDueDays(cfg.Workflow.DefaultTaskDueDays),
	)
	d := workflow.NewDispatcher(ctx, engine, cfg.Workflow.Workers, cfg.Workflow.QueueSize)
	svc := intake.NewService(st, d,
		intake.WithScoring(cfg.Scoring),
		intake.WithAudit(audit.NewZapLogger()),
	)
	return &crmEnv{Store: st, Engine: engine, Dispatcher: d, Intake: svc}
}
