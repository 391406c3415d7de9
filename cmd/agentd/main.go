// Command agentd runs the local-first autonomous agent runtime.
//
// Configuration can be provided via:
//   - YAML config file (--config flag, AGENTD_CONFIG env, ./config.yaml, /etc/agentd/config.yaml)
//   - Environment variables with AGENTD_ prefix (override config file values)
//
// See config.example.yaml for full documentation of available settings.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/auth"
	"github.com/loopedlocal/agentd/pkg/auth/apikey"
	"github.com/loopedlocal/agentd/pkg/auth/jwt"
	"github.com/loopedlocal/agentd/pkg/auth/noop"
	"github.com/loopedlocal/agentd/pkg/config"
	"github.com/loopedlocal/agentd/pkg/loop"
	"github.com/loopedlocal/agentd/pkg/observability"
	"github.com/loopedlocal/agentd/pkg/provider"
	"github.com/loopedlocal/agentd/pkg/provider/ollama"
	"github.com/loopedlocal/agentd/pkg/sessions/memory"
	"github.com/loopedlocal/agentd/pkg/sessions/postgres"
	"github.com/loopedlocal/agentd/pkg/tools"
	"github.com/loopedlocal/agentd/pkg/tools/builtin/exec"
	"github.com/loopedlocal/agentd/pkg/tools/builtin/files"
	mcptools "github.com/loopedlocal/agentd/pkg/tools/mcp"
	"github.com/loopedlocal/agentd/pkg/tools/registry"
	"github.com/loopedlocal/agentd/pkg/transport"
	transporthttp "github.com/loopedlocal/agentd/pkg/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("agentd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	prov := ollama.New(ollama.Config{
		BaseURL:      cfg.Provider.BaseURL,
		DefaultModel: cfg.Provider.DefaultModel,
	})

	store, err := createStore(cfg)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	defer store.Close()

	toolRegistry := registry.New()
	registerBuiltinTools(toolRegistry, cfg)

	var mcpExecutors []*mcptools.MCPExecutor
	if len(cfg.MCP.Servers) > 0 {
		mcpExec, err := createMCPExecutor(cfg)
		if err != nil {
			return fmt.Errorf("creating MCP executor: %w", err)
		}
		toolRegistry.Register(mcpExec)
		mcpExecutors = append(mcpExecutors, mcpExec)
	}
	defer func() {
		for _, e := range mcpExecutors {
			e.Close()
		}
	}()

	runner := newLoopRunner(prov, toolRegistry, store, cfg)

	chain, limiter, err := buildAuthChain(cfg)
	if err != nil {
		return fmt.Errorf("building auth chain: %w", err)
	}

	authMW := auth.Middleware(chain, limiter, []string{"/healthz"})
	chainedMW := func(next http.Handler) http.Handler {
		return observability.MetricsMiddleware(authMW(next))
	}

	srv := transporthttp.NewServer(runner, store,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithDefaultModel(cfg.Provider.DefaultModel),
		transporthttp.WithDefaultMaxIterations(cfg.Loop.MaxIterations),
		transporthttp.WithHTTPMiddleware(chainedMW),
	)

	if cfg.Observability.Metrics.Enabled {
		go serveMetrics(cfg.Observability.Metrics.Path, cfg.Server.Port+1)
	}

	slog.Info("agentd listening", "port", cfg.Server.Port, "provider", cfg.Provider.Type, "sessions", cfg.Sessions.Type)
	return srv.ListenAndServe()
}

// storeAdapter satisfies both transport.ConversationStore (used by the
// HTTP adapter) and transport.LoopRunner's persistence needs.
type storeAdapter interface {
	transport.ConversationStore
}

func createStore(cfg *config.Config) (storeAdapter, error) {
	switch cfg.Sessions.Type {
	case "postgres":
		store, err := postgres.New(context.Background(), postgres.Config{
			DSN:            cfg.Sessions.Postgres.DSN,
			MaxConns:       cfg.Sessions.Postgres.MaxConns,
			MigrateOnStart: cfg.Sessions.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memory.New(cfg.Sessions.MaxSize), nil
	}
}

func registerBuiltinTools(reg *registry.Registry, cfg *config.Config) {
	if cfg.Tools.Exec.Enabled {
		reg.Register(exec.New(cfg.Tools.Exec.WorkDir))
	}
	if cfg.Tools.Files.Enabled {
		reg.Register(files.New(cfg.Tools.Files.Root, cfg.Tools.Files.MaxReadBytes))
	}
}

func createMCPExecutor(cfg *config.Config) (*mcptools.MCPExecutor, error) {
	clients := make(map[string]*mcptools.MCPClient, len(cfg.MCP.Servers))
	for _, s := range cfg.MCP.Servers {
		client := mcptools.NewMCPClient(mcptools.ServerConfig{
			Name:      s.Name,
			Transport: s.Transport,
			URL:       s.URL,
			Headers:   s.Headers,
			Auth: mcptools.MCPAuthConfig{
				Type:         s.Auth.Type,
				TokenURL:     s.Auth.TokenURL,
				ClientID:     s.Auth.ClientID,
				ClientSecret: s.Auth.ClientSecret,
				Scopes:       s.Auth.Scopes,
			},
		})
		if err := client.Connect(context.Background()); err != nil {
			return nil, fmt.Errorf("connecting to MCP server %q: %w", s.Name, err)
		}
		clients[s.Name] = client
	}
	return mcptools.NewMCPExecutor(clients), nil
}

func buildAuthChain(cfg *config.Config) (*auth.AuthChain, auth.RateLimiter, error) {
	limiter := auth.NewInProcessLimiter(nil, 600)

	switch cfg.Auth.Type {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.ServiceTier,
					Metadata:    map[string]string{"tenant_id": k.TenantID},
				},
			})
		}
		chain := &auth.AuthChain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.No,
		}
		return chain, limiter, nil
	case "jwt":
		jwtAuth := jwt.New(jwt.Config{
			Issuer:      cfg.Auth.JWT.Issuer,
			Audience:    cfg.Auth.JWT.Audience,
			JWKSURL:     cfg.Auth.JWT.JWKSURL,
			UserClaim:   cfg.Auth.JWT.UserClaim,
			TenantClaim: cfg.Auth.JWT.TenantClaim,
			ScopesClaim: cfg.Auth.JWT.ScopesClaim,
		})
		chain := &auth.AuthChain{
			Authenticators:  []auth.Authenticator{jwtAuth},
			DefaultDecision: auth.No,
		}
		return chain, limiter, nil
	default:
		chain := &auth.AuthChain{
			Authenticators:  []auth.Authenticator{&noop.Authenticator{}},
			DefaultDecision: auth.Yes,
		}
		return chain, limiter, nil
	}
}

// newLoopRunner adapts the turn loop and the conversation store into a
// transport.LoopRunner. The transport adapter has already persisted
// userMessage by the time RunLoop is called, so the stored history
// already ends with it; the runner only needs to persist what the loop
// produces.
func newLoopRunner(prov provider.Provider, reg tools.ToolRegistry, store storeAdapter, cfg *config.Config) transport.LoopRunnerFunc {
	return func(ctx context.Context, conversationID string, userMessage agent.Message, loopCfg agent.LoopConfig, w transport.LoopEventWriter) error {
		existing, err := store.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}

		history := append([]agent.Message(nil), existing.Messages...)

		events, tail := loop.Run(ctx, prov, reg, loopCfg, history)
		for ev := range events {
			if err := w.WriteEvent(ctx, ev); err != nil {
				return err
			}
		}

		latest := <-tail
		if len(latest) > len(history) {
			if err := store.AppendMessages(ctx, conversationID, latest[len(history):]); err != nil {
				return err
			}
		}

		return w.Flush()
	}
}

func serveMetrics(path string, port int) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	slog.Info("metrics listening", "addr", addr, "path", path)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server failed", "error", err)
	}
}
