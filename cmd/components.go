package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/automation"
	"github.com/xkilldash9x/pagepilot/internal/browser"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/llmclient"
	"github.com/xkilldash9x/pagepilot/internal/network"
	"github.com/xkilldash9x/pagepilot/internal/store"
)

const shutdownTimeout = 15 * time.Second

// components holds the services a command needs. Fields are populated on
// demand and released by Shutdown.
type components struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpClient *http.Client

	browser *browser.Manager
	store   *store.Store
	dbPool  *pgxpool.Pool
}

func newComponents(cfg *config.Config, logger *zap.Logger) *components {
	clientCfg := network.NewDefaultClientConfig()
	clientCfg.IgnoreTLSErrors = cfg.Browser().IgnoreTLSErrors
	if t := cfg.Backend().Timeout; t > 0 {
		clientCfg.RequestTimeout = t
	}
	clientCfg.Logger = logger.Named("http")

	return &components{
		cfg:        cfg,
		logger:     logger,
		httpClient: network.NewClient(clientCfg),
	}
}

// Browser starts the browser manager on first use.
func (c *components) Browser() *browser.Manager {
	if c.browser == nil {
		c.browser = browser.NewManager(c.cfg.Browser(), c.logger)
	}
	return c.browser
}

// openStore connects to PostgreSQL when persistence is enabled. A nil store
// means runs are not recorded.
func (c *components) openStore(ctx context.Context) (*store.Store, error) {
	if !c.cfg.Store().Enabled {
		return nil, nil
	}
	if c.store != nil {
		return c.store, nil
	}
	pool, err := pgxpool.New(ctx, c.cfg.Store().URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	st, err := store.New(ctx, pool, c.logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	c.dbPool = pool
	c.store = st
	return st, nil
}

// newInferrer picks the inference backend named by inference.provider.
func (c *components) newInferrer(ctx context.Context) (automation.Inferrer, error) {
	inf := c.cfg.Inference()
	switch inf.Provider {
	case config.ProviderHTTP, "":
		return automation.NewHTTPInferrer(inf.ResolveEndpoint(c.cfg.Backend()), c.httpClient, c.logger), nil
	default:
		client, err := llmclient.NewClient(ctx, inf, c.httpClient, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		return automation.NewLLMInferrer(client, inf.Temperature, c.logger), nil
	}
}

// newRunner builds the automation runner, recording runs when a store is configured.
func (c *components) newRunner(ctx context.Context, history bool) (*automation.Runner, error) {
	inferrer, err := c.newInferrer(ctx)
	if err != nil {
		return nil, err
	}
	st, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}

	opts := []automation.RunnerOption{automation.WithHistory(history || c.cfg.Automation().IncludeHistory)}
	if st != nil {
		opts = append(opts, automation.WithRecorder(st))
	}
	executor := automation.NewExecutor(c.logger, c.cfg.Automation())
	return automation.NewRunner(inferrer, executor, c.cfg.Automation(), c.logger, opts...), nil
}

// Shutdown releases the browser and the database pool.
func (c *components) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if c.browser != nil {
		if err := c.browser.Shutdown(ctx); err != nil {
			c.logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if c.dbPool != nil {
		c.dbPool.Close()
	}
}
