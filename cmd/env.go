package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ciplastic/funnel-dashboard/internal/analysis"
	"github.com/ciplastic/funnel-dashboard/internal/dashboard"
	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/monitoring"
	"github.com/ciplastic/funnel-dashboard/internal/resilience"
	"github.com/ciplastic/funnel-dashboard/internal/store"
	anthropicpkg "github.com/ciplastic/funnel-dashboard/pkg/anthropic"
	"github.com/ciplastic/funnel-dashboard/pkg/ghl"
	"github.com/ciplastic/funnel-dashboard/pkg/meta"
	sfpkg "github.com/ciplastic/funnel-dashboard/pkg/salesforce"
)

// appEnv holds the store, clients and services shared by the commands.
type appEnv struct {
	Store    store.Store
	Service  *dashboard.Service
	Analyzer *analysis.Analyzer
	Ads      *meta.Client
	Metrics  *monitoring.Metrics
	Location *time.Location
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens and migrates the store, and
// builds the dashboard service with its CRM and ad sources. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	loc, err := funnel.LoadLocation(cfg.Funnel.Timezone)
	if err != nil {
		return nil, err
	}
	tax, err := funnel.LoadTaxonomy(cfg.Funnel.TaxonomyFile)
	if err != nil {
		return nil, err
	}
	xref, err := funnel.ParseCrossRefMode(cfg.Funnel.CrossRefMode)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	src, err := initSource(tax)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ads := initMeta()
	m := monitoring.NewMetrics()
	calc := funnel.NewCalculator(tax, loc)

	svc := dashboard.New(st, src, calc,
		dashboard.WithAds(ads),
		dashboard.WithTTL(cfg.Funnel.CacheTTL()),
		dashboard.WithBufferDays(cfg.Funnel.BufferDays),
		dashboard.WithCrossRefMode(xref),
		dashboard.WithMetrics(m),
	)

	var llm anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		llm = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Debug("anthropic key not set, analysis disabled")
	}
	an := analysis.New(llm, st, calc,
		analysis.WithAds(ads),
		analysis.WithModel(cfg.Anthropic.Model),
		analysis.WithMaxTokens(int64(cfg.Anthropic.MaxTokens)),
		analysis.WithBufferDays(cfg.Funnel.BufferDays),
		analysis.WithCache(time.Duration(cfg.Anthropic.CacheTTLSecs)*time.Second),
	)

	return &appEnv{
		Store:    st,
		Service:  svc,
		Analyzer: an,
		Ads:      ads,
		Metrics:  m,
		Location: loc,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "funnel.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initSource builds the opportunity source selected by crm.provider.
func initSource(tax *funnel.Taxonomy) (dashboard.Source, error) {
	switch cfg.CRM.Provider {
	case "ghl":
		c := ghl.NewClient(cfg.GHL.Token,
			ghl.WithBaseURL(cfg.GHL.BaseURL),
			ghl.WithPageDelay(time.Duration(cfg.GHL.PageDelayMS)*time.Millisecond),
			ghl.WithRetry(time.Duration(cfg.GHL.RetryBaseMS)*time.Millisecond, cfg.GHL.MaxRetries),
		)
		return c.Pipeline(cfg.GHL.PipelineID), nil
	case "salesforce":
		return initSalesforce(tax)
	default:
		return nil, eris.Errorf("unsupported crm provider: %s", cfg.CRM.Provider)
	}
}

func initSalesforce(tax *funnel.Taxonomy) (*sfpkg.Source, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	client, err := sfpkg.Connect(sfpkg.Credentials{
		LoginURL:   cfg.Salesforce.LoginURL,
		Username:   cfg.Salesforce.Username,
		ClientID:   cfg.Salesforce.ClientID,
		PrivateKey: string(pemData),
	})
	if err != nil {
		return nil, err
	}

	opts := []sfpkg.SourceOption{sfpkg.WithStageMapper(stageMapper(tax))}
	if cfg.Salesforce.Since != "" {
		since, err := time.Parse("2006-01-02", cfg.Salesforce.Since)
		if err != nil {
			return nil, eris.Wrapf(err, "parse salesforce.since %q", cfg.Salesforce.Since)
		}
		opts = append(opts, sfpkg.WithSince(since))
	}
	return sfpkg.NewSource(client, opts...), nil
}

// stageMapper resolves Salesforce StageName values to taxonomy ids by
// display name. Unknown names pass through unchanged.
func stageMapper(tax *funnel.Taxonomy) sfpkg.StageMapper {
	return func(name string) string {
		if st, ok := tax.LookupByName(name); ok {
			return st.ID
		}
		return name
	}
}

// initMeta always returns a client; without credentials it reports
// Configured() == false and the ad routes answer 503.
func initMeta() *meta.Client {
	breaker := resilience.NewBreaker("meta",
		resilience.WithThreshold(cfg.Meta.BreakerThreshold),
		resilience.WithCooldown(time.Duration(cfg.Meta.BreakerResetSecs)*time.Second))
	return meta.NewClient(cfg.Meta.AccessToken, cfg.Meta.AdAccountID,
		meta.WithBaseURL(cfg.Meta.BaseURL),
		meta.WithBreaker(breaker),
		meta.WithCacheTTL(time.Duration(cfg.Meta.CacheTTLSecs)*time.Second),
	)
}

// parseRange reads --start/--end style values, defaulting to the current
// month in loc.
func parseRange(start, end string, loc *time.Location) (funnel.DateRange, error) {
	if start == "" && end == "" {
		return funnel.CurrentMonth(time.Now(), loc), nil
	}
	return funnel.ParseDateRange(start, end, loc)
}
