package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"

	"github.com/mcoot/bunker/internal/api/handler"
	"github.com/mcoot/bunker/internal/api/middleware"
	"github.com/mcoot/bunker/internal/api/response"
	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/realtime/sse"
	"github.com/mcoot/bunker/internal/services/auth"
	"github.com/mcoot/bunker/internal/services/lobby"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger          *slog.Logger
	AuthService     *auth.Service
	LobbyController *lobby.Controller
	Subscriber      feed.Subscriber
	HubManager      *sse.HubManager

	// AllowedOrigins for CORS and websocket origin checks. Empty allows any.
	AllowedOrigins []string
	// JoinRatePerMinute bounds create/join attempts per player
	JoinRatePerMinute int
	// Attempts overrides the limiter built from JoinRatePerMinute, so the
	// caller can prune it
	Attempts *middleware.AttemptLimiter

	// Reconnect retry policy; zero values use the flow defaults
	ReconnectAttempts int
	ReconnectInterval time.Duration

	// StorageType and FeedType are reported by the health check
	StorageType string
	FeedType    string
}

// DefaultJoinRatePerMinute applies when RouterConfig leaves the rate unset
const DefaultJoinRatePerMinute = 30

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Create handlers
	playerHandler := handler.NewPlayerHandler(cfg.AuthService)
	lobbyHandler := handler.NewLobbyHandler(cfg.LobbyController)
	participationHandler := handler.NewParticipationHandler(cfg.LobbyController, cfg.Logger, cfg.ReconnectAttempts, cfg.ReconnectInterval)
	realtimeHandler := handler.NewRealtimeHandler(cfg.Subscriber, cfg.HubManager, origins, cfg.Logger)

	// Create middleware
	authMiddleware := middleware.Auth(cfg.AuthService)
	optionalAuthMiddleware := middleware.OptionalAuth(cfg.AuthService)
	attempts := cfg.Attempts
	if attempts == nil {
		rate := cfg.JoinRatePerMinute
		if rate <= 0 {
			rate = DefaultJoinRatePerMinute
		}
		attempts = middleware.NewAttemptLimiter(rate)
	}

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Logging(cfg.Logger))
	api.Use(middleware.Recovery(cfg.Logger))

	// Player routes (no auth required for creating players/logging in)
	api.HandleFunc("/players/guest", playerHandler.CreateGuest).Methods(http.MethodPost)
	api.HandleFunc("/players/register", playerHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/players/login", playerHandler.Login).Methods(http.MethodPost)
	api.Handle("/players/logout", optionalAuthMiddleware(http.HandlerFunc(playerHandler.Logout))).Methods(http.MethodPost)

	// Protected player routes
	playerProtected := api.PathPrefix("/players").Subrouter()
	playerProtected.Use(authMiddleware)
	playerProtected.HandleFunc("/me", playerHandler.GetMe).Methods(http.MethodGet)

	// Lobby routes (all require auth)
	lobbies := api.PathPrefix("/lobbies").Subrouter()
	lobbies.Use(authMiddleware)
	lobbies.Handle("", attempts.Middleware(http.HandlerFunc(lobbyHandler.Create))).Methods(http.MethodPost)
	lobbies.HandleFunc("", lobbyHandler.DeleteAll).Methods(http.MethodDelete)
	lobbies.HandleFunc("/{name}", lobbyHandler.Get).Methods(http.MethodGet)
	lobbies.HandleFunc("/{name}", lobbyHandler.Delete).Methods(http.MethodDelete)
	lobbies.HandleFunc("/{name}/exists", lobbyHandler.Exists).Methods(http.MethodGet)
	lobbies.Handle("/{name}/join", attempts.Middleware(http.HandlerFunc(lobbyHandler.Join))).Methods(http.MethodPost)
	lobbies.HandleFunc("/{name}/leave", lobbyHandler.Leave).Methods(http.MethodPost)
	lobbies.HandleFunc("/{name}/participants", lobbyHandler.Participants).Methods(http.MethodGet)
	lobbies.HandleFunc("/{name}/players", lobbyHandler.Players).Methods(http.MethodGet)

	// Change feed routes
	lobbies.HandleFunc("/{name}/changes", realtimeHandler.Changes).Methods(http.MethodGet)
	lobbies.HandleFunc("/{name}/events", realtimeHandler.Events).Methods(http.MethodGet)

	// Own participation
	me := api.PathPrefix("/me").Subrouter()
	me.Use(authMiddleware)
	me.HandleFunc("/participation", participationHandler.Get).Methods(http.MethodGet)
	me.HandleFunc("/participation", participationHandler.Delete).Methods(http.MethodDelete)
	api.Handle("/reconnect", authMiddleware(http.HandlerFunc(participationHandler.Reconnect))).Methods(http.MethodPost)

	// Health check endpoint (no auth)
	api.HandleFunc("/health", healthHandler(cfg.StorageType, cfg.FeedType)).Methods(http.MethodGet)

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "If-Match", "X-Request-ID"},
		ExposedHeaders:   []string{"ETag", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})(r)
}

func healthHandler(storageType, feedType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, response.Health{
			Status:  "ok",
			Storage: storageType,
			Feed:    feedType,
		})
	}
}
