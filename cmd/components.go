// cmd/components.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/agent"
	"github.com/xkilldash9x/atlas-cli/internal/browser"
	"github.com/xkilldash9x/atlas-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/atlas-cli/internal/browser/session"
	"github.com/xkilldash9x/atlas-cli/internal/challenge"
	"github.com/xkilldash9x/atlas-cli/internal/config"
	"github.com/xkilldash9x/atlas-cli/internal/executor"
	"github.com/xkilldash9x/atlas-cli/internal/llmclient"
	"github.com/xkilldash9x/atlas-cli/internal/metrics"
	"github.com/xkilldash9x/atlas-cli/internal/oracle"
	"github.com/xkilldash9x/atlas-cli/internal/safety"
	"github.com/xkilldash9x/atlas-cli/internal/store"
)

const shutdownTimeout = 30 * time.Second

// Injection points for tests.
var (
	newBrowserProvider = defaultBrowserProvider
	newLLMClient       = llmclient.NewClient
)

func defaultBrowserProvider(cfg config.Interface, logger *zap.Logger) (schemas.BrowserProvider, error) {
	switch strings.ToLower(cfg.Browser().Driver) {
	case "cdp":
		return session.NewDriver(cfg, logger)
	case "playwright", "":
		return browser.NewManager(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Browser().Driver)
	}
}

// components holds the services wired for one CLI invocation.
type components struct {
	manager   *agent.Manager
	llm       schemas.LLMClient
	collector *metrics.Collector
	logger    *zap.Logger

	stopMetrics context.CancelFunc
	metricsDone chan struct{}
}

// buildComponents wires config into the session manager: LLM router, oracle,
// executor, challenge handler, validator, loop and browser provider.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	collector := metrics.NewCollector(logger)

	client, err := newLLMClient(ctx, cfg.LLM(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	provider, err := newBrowserProvider(cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}

	oracleOpts := oracle.DefaultOptions()
	oracleOpts.HistoryWindow = cfg.Agent().HistoryWindow
	orc := oracle.New(client, oracleOpts, collector, logger)

	pacer := humanoid.New(cfg.Browser().Humanoid, logger)
	exec := executor.New(logger, executor.OptionsFromConfig(cfg), pacer, collector)
	challenges := challenge.NewHandler(logger, challenge.OptionsFromConfig(cfg), orc, pacer, collector)
	validator := safety.NewValidator(safety.PolicyFromConfig(cfg.Agent(), cfg.Security()), logger)
	loop := agent.NewLoop(logger, agent.OptionsFromConfig(cfg), orc, exec, challenges, validator, collector)

	c := &components{
		manager:   agent.NewManager(logger, agent.ManagerOptionsFromConfig(cfg), provider, store.New(logger), loop, challenges, collector),
		llm:       client,
		collector: collector,
		logger:    logger,
	}

	if m := cfg.Metrics(); m.Enabled {
		metricsCtx, stop := context.WithCancel(context.Background())
		c.stopMetrics = stop
		c.metricsDone = make(chan struct{})
		go func() {
			defer close(c.metricsDone)
			if err := collector.Serve(metricsCtx, m.ListenAddr); err != nil {
				logger.Error("Metrics server failed.", zap.Error(err))
			}
		}()
	}
	return c, nil
}

// shutdown stops sessions, the browser, the LLM client and the metrics
// server. It uses its own deadline so it still runs after a cancelled ctx.
func (c *components) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := c.manager.Shutdown(ctx); err != nil {
		c.logger.Warn("Error during session manager shutdown.", zap.Error(err))
		errs = append(errs, err)
	}
	if err := c.llm.Close(); err != nil {
		c.logger.Warn("Error closing LLM client.", zap.Error(err))
		errs = append(errs, err)
	}
	if c.stopMetrics != nil {
		c.stopMetrics()
		select {
		case <-c.metricsDone:
		case <-ctx.Done():
		}
	}
	return errors.Join(errs...)
}
