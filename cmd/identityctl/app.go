package main

import (
	"context"
	"database/sql"
	"io"

	"github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/activitymap"
	"github.com/goliatone/go-identity/metrics"
	"github.com/goliatone/go-identity/provider/firebase"
	"github.com/goliatone/go-identity/repository"
	"github.com/goliatone/go-logger/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// app is the wired gateway for one command invocation.
type app struct {
	logger   identity.Logger
	client   *firebase.Client
	gateway  *identity.Gateway
	registry *prometheus.Registry
	db       *bun.DB
}

func newLogger(verbose bool) identity.Logger {
	if !verbose {
		return identity.NoopLogger()
	}
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("identityctl"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
	return lgr.GetLogger("identity")
}

func newApp(ctx context.Context, opts *rootOptions, opener firebase.PopupOpener) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if opts.sessionFile != "" {
		cfg.SessionFile = opts.sessionFile
	}

	fbCfg, err := firebase.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	a := &app{
		logger:   newLogger(opts.verbose),
		registry: prometheus.NewRegistry(),
	}

	clientOpts := []firebase.Option{
		firebase.WithTokenStore(firebase.NewFileTokenStore(cfg.SessionFile)),
		firebase.WithLogger(a.logger),
	}
	if opener != nil {
		clientOpts = append(clientOpts, firebase.WithPopupOpener(opener))
	}

	a.client, err = firebase.New(fbCfg, clientOpts...)
	if err != nil {
		return nil, err
	}
	if err := a.client.Init(ctx); err != nil {
		a.Close()
		return nil, err
	}

	collector := metrics.NewCollector()
	collector.Register(a.registry)

	sinks := identity.MultiActivitySink{
		collector,
		activitymap.Sink(func(n activitymap.Normalized) error {
			a.logger.Debug("activity", "actor", n.ActorID, "verb", n.Verb, "metadata", n.Metadata)
			return nil
		}, activitymap.WithDefaultChannel("identityctl")),
	}

	gatewayOpts := []identity.GatewayOption{
		identity.WithLogger(a.logger),
		identity.WithActivitySink(sinks),
		identity.WithOperationListener(collector.Listener()),
		identity.WithConcealUnknownAccounts(cfg.ConcealUnknownAccounts),
	}

	if cfg.ActivityDB != "" {
		recorder, err := a.openActivityDB(ctx, cfg.ActivityDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		gatewayOpts = append(gatewayOpts, identity.WithFirstActivityRecorder(recorder))
	}

	a.gateway, err = identity.NewGateway(a.client, nil, gatewayOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) openActivityDB(ctx context.Context, dsn string) (*repository.FirstActivityRepository, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open activity database")
	}
	a.db = bun.NewDB(sqldb, sqlitedialect.New())

	repo := repository.NewFirstActivityRepository(a.db)
	if err := repo.CreateSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// writeMetrics dumps the collected metrics in the text exposition format.
func (a *app) writeMetrics(w io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) Close() {
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close activity database", "error", err)
		}
	}
}
