package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/floworc/floworc/internal/broker"
	"github.com/floworc/floworc/internal/config"
	"github.com/floworc/floworc/internal/dag"
	"github.com/floworc/floworc/internal/engine"
	"github.com/floworc/floworc/internal/logger"
	"github.com/floworc/floworc/internal/persistence"
	"github.com/floworc/floworc/internal/state"
)

// runtime bundles the connections and stores shared by all subcommands.
type runtime struct {
	cfg    *config.Config
	rdb    redis.UniversalClient
	store  *state.Store
	broker *broker.Broker
	dlq    *broker.DLQ
	repo   persistence.Repository
	dags   *dag.Cache
}

// newRuntime loads configuration, attaches the logger to the context, and
// opens the Redis and Postgres connections.
func newRuntime(ctx context.Context, configFile string) (*runtime, context.Context, error) {
	cfg, err := config.NewLoader(config.WithConfigFile(configFile)).Load()
	if err != nil {
		return nil, ctx, err
	}

	var opts []logger.Option
	opts = append(opts, logger.WithFormat(cfg.LogFormat))
	if cfg.Debug {
		opts = append(opts, logger.WithDebug())
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(opts...))

	rdb, err := state.NewClient(cfg.Redis)
	if err != nil {
		return nil, ctx, err
	}

	repo, err := persistence.OpenPostgres(ctx, cfg.Postgres.DSN)
	if err != nil {
		_ = rdb.Close()
		return nil, ctx, err
	}

	rt := &runtime{
		cfg:    cfg,
		rdb:    rdb,
		store:  state.New(rdb, cfg.State),
		broker: broker.New(rdb, cfg.Streams),
		dlq:    broker.NewDLQ(rdb, cfg.Streams.DLQ),
		repo:   repo,
		dags:   dag.NewCache(engine.DefinitionLoader(repo)),
	}
	return rt, ctx, nil
}

func (r *runtime) close() {
	r.repo.Close()
	_ = r.rdb.Close()
}

func (r *runtime) engine() *engine.Engine {
	return engine.New(r.repo, r.store, r.broker, r.dlq, r.cfg.RateLimit)
}

// consumerName builds a cluster-unique consumer name for one replica.
func consumerName(role string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d-%s", role, host, os.Getpid(), uuid.NewString()[:8])
}
