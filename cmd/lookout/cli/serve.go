package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lookout/internal/agent"
	"github.com/felixgeelhaar/lookout/internal/api"
	"github.com/felixgeelhaar/lookout/internal/auth"
	"github.com/felixgeelhaar/lookout/internal/config"
	"github.com/felixgeelhaar/lookout/internal/marketplace"
	"github.com/felixgeelhaar/lookout/internal/middleware"
	"github.com/felixgeelhaar/lookout/internal/observe"
	"github.com/felixgeelhaar/lookout/internal/provider"
	"github.com/felixgeelhaar/lookout/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lookout HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		serve()
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func serve() {
	obs := observe.NewJSON(os.Stdout, verbose)
	defer obs.Close()

	if err := godotenv.Load(); err != nil {
		obs.Log().Debug().Msg("no .env file found, using environment variables")
	}

	cfg := loadConfig()
	obs.Log().Info().Str("port", cfg.Port).Bool("dev", cfg.IsDevelopment()).Msg("starting server")

	storeLayer, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("failed to init store")
	}
	defer storeLayer.Close()

	if err := storeLayer.Ping(context.Background()); err != nil {
		obs.Log().Fatal().Err(err).Msg("database health check failed")
	}

	p, err := buildProvider(context.Background(), cfg, storeLayer, obs)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("failed to initialize provider")
	}
	obs.Log().Info().Str("provider", p.Name()).Msg("provider ready")

	searcher, err := marketplace.NewMockSearcher()
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("failed to load marketplace fixtures")
	}

	agentSvc := agent.NewService(storeLayer, p, obs)
	authSvc := auth.NewService(storeLayer, cfg.TokenTTL, cfg.IsDevelopment())
	handler := api.NewHandler(storeLayer, agentSvc, authSvc, searcher, obs)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(origins))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		// Agent turns block on the model call; give them room.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		obs.Log().Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Log().Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	stop()
	obs.Log().Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Log().Fatal().Err(err).Msg("server forced to shutdown")
	}
	obs.Log().Info().Msg("server stopped")
}

// buildProvider constructs the configured provider. API keys come from
// the config (file or env) with the store's configuration table as
// fallback, so keys set via `lookout config set` just work.
func buildProvider(ctx context.Context, cfg *config.Config, s store.Storage, obs *observe.Observer) (provider.Provider, error) {
	key := func(explicit, storeKey string) string {
		if explicit != "" {
			return explicit
		}
		v, err := s.GetConfig(ctx, storeKey)
		if err != nil {
			obs.Log().Warn().Err(err).Str("key", storeKey).Msg("failed to read stored credential")
		}
		return v
	}

	switch cfg.Provider.Name {
	case "gemini":
		return provider.NewGeminiProvider(ctx, provider.GeminiConfig{
			APIKey: key(cfg.Provider.GeminiAPIKey, "gemini.api_key"),
			Model:  cfg.Provider.Model,
		})
	case "openai":
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:  key(cfg.Provider.OpenAIAPIKey, "openai.api_key"),
			BaseURL: key(cfg.Provider.OpenAIBase, "openai.base_url"),
			Model:   cfg.Provider.Model,
		})
	case "ollama":
		return provider.NewOllamaProvider(cfg.Provider.Model)
	case "anthropic":
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey: key(cfg.Provider.AnthropicKey, "anthropic.api_key"),
			Model:  cfg.Provider.Model,
		})
	case "stub":
		return provider.NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}
