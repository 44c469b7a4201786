package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/cyberbuddy/backend/internal/auth"
	"github.com/zhouzirui/cyberbuddy/backend/internal/config"
	"github.com/zhouzirui/cyberbuddy/backend/internal/handler/chat"
	"github.com/zhouzirui/cyberbuddy/backend/internal/handler/realtime"
	"github.com/zhouzirui/cyberbuddy/backend/internal/handler/stream"
	"github.com/zhouzirui/cyberbuddy/backend/internal/handler/user"
	middlewarePkg "github.com/zhouzirui/cyberbuddy/backend/internal/middleware"
	chatService "github.com/zhouzirui/cyberbuddy/backend/internal/service/chat"
	"github.com/zhouzirui/cyberbuddy/backend/pkg/utils"
)

// Version 是对外公布的服务版本。
const Version = "2.0.0"

// Pinger 检查存储是否可用。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps 是路由依赖的核心服务。
type Deps struct {
	Config   *config.Config
	Chat     *chatService.Service
	Verifier auth.Verifier
	Store    Pinger
	Logger   *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.Config.Server.AllowedOrigins))

	r.Get("/", handleBanner(deps.Config))
	r.Get("/health", handleHealth(deps))

	chatHandler := chat.New(deps.Chat)
	streamHandler := stream.New(deps.Chat)
	realtimeHandler := realtime.New(deps.Chat, deps.Config.Server.AllowedOrigins)
	userHandler := user.New(deps.Chat)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middlewarePkg.Authenticate(deps.Verifier, deps.Chat))

		userHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		realtimeHandler.RegisterRoutes(api)
	})

	return r
}

func handleBanner(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"message":  "CyberBuddy API is running",
			"version":  Version,
			"provider": cfg.AI.Provider,
			"model":    cfg.AI.ModelName(),
			"database": cfg.Store.Driver,
			"auth":     cfg.Auth.Mode,
			"status":   "healthy",
		})
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		body := map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"gate":      deps.Chat.GateStats(),
		}

		if deps.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Store.Ping(ctx); err != nil {
				slog.Error("health check: store unavailable", "error", err)
				status, code = "degraded", http.StatusServiceUnavailable
				body["database"] = "unavailable"
			} else {
				body["database"] = "ok"
			}
		}

		body["status"] = status
		utils.RespondJSON(w, code, body)
	}
}
