package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/toolhub/internal/api"
	"github.com/ashureev/toolhub/internal/automation"
	"github.com/ashureev/toolhub/internal/browser"
	"github.com/ashureev/toolhub/internal/config"
	"github.com/ashureev/toolhub/internal/identity"
	"github.com/ashureev/toolhub/internal/interpret"
	"github.com/ashureev/toolhub/internal/middleware"
	"github.com/ashureev/toolhub/internal/nlautomation"
	"github.com/ashureev/toolhub/internal/reasoning"
	"github.com/ashureev/toolhub/internal/rpc"
	"github.com/ashureev/toolhub/internal/session"
	"github.com/ashureev/toolhub/internal/store"
	"github.com/ashureev/toolhub/internal/toolset"
	"github.com/ashureev/toolhub/internal/transport"
)

// toolsetOrder fixes the mount order of the tool-sets.
var toolsetOrder = []string{config.Reasoning, config.Automation, config.NLAutomation}

// mounted is one enabled tool-set with its store.
type mounted struct {
	toolset *toolset.Toolset
	prefix  string
	store   session.Sweeper
}

// app owns every long-lived dependency of the server.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	toolsets []mounted
	handlers []*api.Handler
	journal  store.Journal
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var backend browser.Backend
	var interpreter interpret.Interpreter
	if cfg.Toolsets[config.Automation].Enabled || cfg.Toolsets[config.NLAutomation].Enabled {
		if backend, err = a.newBackend(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.Toolsets[config.NLAutomation].Enabled {
		if interpreter, err = a.newInterpreter(); err != nil {
			return nil, err
		}
	}

	if cfg.JournalDBPath != "" {
		j, err := store.NewSQLite(cfg.JournalDBPath)
		if err != nil {
			return nil, fmt.Errorf("open call journal: %w", err)
		}
		if err := j.Ping(ctx); err != nil {
			_ = j.Close()
			return nil, fmt.Errorf("call journal health check: %w", err)
		}
		a.journal = j
		a.closers = append(a.closers, j.Close)
		logger.Info("Call journal opened", "path", cfg.JournalDBPath, "retention", cfg.JournalRetention)
	}

	a.toolsets = buildToolsets(cfg, backend, interpreter, logger)
	if len(a.toolsets) == 0 {
		return nil, errors.New("no tool-set is enabled")
	}

	for _, m := range a.toolsets {
		opts := []rpc.DispatcherOption{rpc.WithLogger(logger.With("toolset", m.toolset.Name))}
		if a.journal != nil {
			opts = append(opts, rpc.WithJournal(a.journal))
		}
		a.handlers = append(a.handlers, api.NewHandler(api.Config{
			Toolset:    m.toolset,
			Dispatcher: rpc.NewDispatcher(m.toolset, opts...),
			Journal:    a.journal,
			Prefix:     m.prefix,
			Transport: transport.Options{
				HeartbeatInterval: cfg.Transport.HeartbeatInterval,
				RetryDelay:        cfg.Transport.RetryDelay,
				MaxBodyBytes:      cfg.Transport.MaxRequestBytes,
			},
			Logger: logger,
		}))
	}
	return a, nil
}

// buildToolsets constructs the enabled tool-sets. backend and interpreter may
// be nil when no enabled tool-set needs them.
func buildToolsets(cfg *config.Config, backend browser.Backend, interpreter interpret.Interpreter, logger *slog.Logger) []mounted {
	var out []mounted
	for _, name := range toolsetOrder {
		tc := cfg.Toolsets[name]
		if !tc.Enabled {
			continue
		}
		storeOpts := []session.Option{session.WithLogger(logger)}

		switch name {
		case config.Reasoning:
			st := reasoning.NewStore(tc.SessionTimeout, storeOpts...)
			svc := reasoning.NewService(st, logger)
			out = append(out, mounted{toolset: svc.Toolset(cfg.ServiceVersion), prefix: tc.Prefix, store: st})

		case config.Automation:
			st := automation.NewStore(tc.SessionTimeout, backend, storeOpts...)
			svc := automation.NewService(st, backend, logger)
			out = append(out, mounted{toolset: svc.Toolset(cfg.ServiceVersion), prefix: tc.Prefix, store: st})

		case config.NLAutomation:
			st := nlautomation.NewStore(tc.SessionTimeout, backend, storeOpts...)
			svc := nlautomation.NewService(st, backend, interpreter, nlautomation.Options{
				Credential:       identity.CredentialPolicy{Prefix: cfg.Credential.Prefix, MinLength: cfg.Credential.MinLength},
				APIKey:           cfg.Credential.APIKey,
				InterpretTimeout: cfg.Interpreter.Timeout,
				Logger:           logger,
			})
			out = append(out, mounted{toolset: svc.Toolset(cfg.ServiceVersion), prefix: tc.Prefix, store: st})
		}
	}
	return out
}

func (a *app) newBackend(ctx context.Context) (browser.Backend, error) {
	bc := a.cfg.Browser
	if bc.Backend != "playwright" {
		b := browser.NewSimulated()
		a.closers = append(a.closers, b.Shutdown)
		a.logger.Info("Browser backend initialized", "backend", "simulated")
		return b, nil
	}

	opts := browser.PlaywrightOptions{
		Headless: bc.Headless,
		Logger:   a.logger,
	}
	if bc.DockerImage != "" {
		prov, err := browser.NewDockerProvisioner(bc.DockerImage, bc.ContainerRuntime, config.IsContainer(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("initialize browser provisioner: %w", err)
		}
		a.closers = append(a.closers, func() error {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := prov.Stop(stopCtx); err != nil {
				a.logger.Warn("Failed to stop browser server", "error", err)
			}
			return prov.Close()
		})

		endpoint, err := prov.EnsureServer(ctx)
		if err != nil {
			return nil, fmt.Errorf("start browser server: %w", err)
		}
		opts.WSEndpoint = endpoint
	}

	b, err := browser.NewPlaywright(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize playwright: %w", err)
	}
	a.closers = append(a.closers, b.Shutdown)
	a.logger.Info("Browser backend initialized", "backend", "playwright", "remote", opts.WSEndpoint != "")
	return b, nil
}

func (a *app) newInterpreter() (interpret.Interpreter, error) {
	ic := a.cfg.Interpreter
	switch ic.Kind {
	case "openai":
		o, err := interpret.NewOpenAI(interpret.OpenAIOptions{
			APIKey:  ic.OpenAIAPIKey,
			BaseURL: ic.OpenAIBaseURL,
			Model:   ic.OpenAIModel,
			Logger:  a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize openai interpreter: %w", err)
		}
		a.logger.Info("Interpreter initialized", "kind", "openai", "model", ic.OpenAIModel)
		return o, nil

	case "grpc":
		gc := interpret.DefaultGrpcConfig(ic.GrpcAddr)
		gc.RequestTimeout = ic.Timeout
		g, err := interpret.NewGrpc(gc, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect interpreter service: %w", err)
		}
		a.closers = append(a.closers, func() error {
			g.Close()
			return nil
		})
		a.logger.Info("Interpreter initialized", "kind", "grpc", "address", ic.GrpcAddr)
		return g, nil

	default:
		a.logger.Info("Interpreter initialized", "kind", "rules")
		return interpret.NewRules(), nil
	}
}

// sweepers returns every store plus the journal pruner.
func (a *app) sweepers() []session.Sweeper {
	out := make([]session.Sweeper, 0, len(a.toolsets)+1)
	for _, m := range a.toolsets {
		out = append(out, m.store)
	}
	if a.journal != nil {
		out = append(out, store.NewPruner(a.journal, a.cfg.JournalRetention, a.logger))
	}
	return out
}

// router builds the HTTP handler with every tool-set mounted.
func (a *app) router() chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(a.cfg.AllowedOrigins))

	for _, h := range a.handlers {
		h.RegisterRoutes(r)
	}
	r.Get("/", api.Index(a.handlers))
	return r
}

// Close releases dependencies in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("Failed to release dependency", "error", err)
		}
	}
	a.closers = nil
}
