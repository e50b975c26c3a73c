// Overhead server
// Watches the sky over a fixed observer and distributes what it sees
// to WebSocket subscribers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/skyspotter/overhead/internal/aircraftinfo"
	"github.com/skyspotter/overhead/internal/auth"
	"github.com/skyspotter/overhead/internal/hub"
	"github.com/skyspotter/overhead/internal/ratelimit"
	"github.com/skyspotter/overhead/internal/sightings"
	"github.com/skyspotter/overhead/internal/track"
	"github.com/skyspotter/overhead/pkg/adsb"
	"github.com/skyspotter/overhead/pkg/config"
)

var (
	configPath = flag.String("config", "configs/config.json", "Path to configuration file")
	port       = flag.String("port", "", "HTTP server port (overrides config)")
)

func main() {
	flag.Parse()

	log.Println("🚀 Starting overhead server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("  ✗ %v", e)
		}
		log.Fatal("Configuration is invalid")
	}

	log.Printf("Observer: %s at %.4f, %.4f (radius %.0f km, min elevation %.0f°)",
		cfg.Observer.Name, cfg.Observer.Latitude, cfg.Observer.Longitude,
		cfg.Tracking.SearchRadiusKm, cfg.Tracking.MinElevationDeg)

	// Logbook store: PostgreSQL when enabled and reachable, in-memory
	// otherwise. A dead database degrades the logbook, not the server.
	var store sightings.Store
	if cfg.Logbook.Enabled {
		pg, err := sightings.NewPGStore(cfg.Logbook.ConnString(),
			cfg.Logbook.MaxOpenConns, cfg.Logbook.MaxIdleConns)
		if err != nil {
			log.Printf("⚠️  Logbook database unavailable, using memory: %v", err)
			store = sightings.NewMemStore()
		} else {
			log.Println("✅ Connected to logbook database")
			store = pg
		}
	} else {
		store = sightings.NewMemStore()
	}
	defer store.Close()

	// Aircraft metadata cache.
	var lookup sightings.LookupFunc
	infoCache, err := aircraftinfo.New(aircraftinfo.Config{
		Path:          cfg.InfoCache.Path,
		LookupBaseURL: cfg.InfoCache.LookupBaseURL,
		PhotoBaseURL:  cfg.InfoCache.PhotoBaseURL,
		Expiry:        time.Duration(cfg.InfoCache.ExpiryDays) * 24 * time.Hour,
	})
	if err != nil {
		log.Printf("⚠️  Aircraft info cache unavailable: %v", err)
	} else {
		defer infoCache.Close()
		lookup = func(ctx context.Context, id string) (string, string, error) {
			info, err := infoCache.Lookup(ctx, id)
			if err != nil {
				return "", "", err
			}
			return info.TypeName, info.ImageURL, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := sightings.NewTracker(store, lookup, cfg.Tracking.SightingTTL())
	tracker.Start(ctx)
	defer tracker.Close()

	source := adsb.NewOpenSkyClient(adsb.OpenSkyConfig{
		BaseURL:           cfg.Upstream.BaseURL,
		Username:          cfg.Upstream.Username,
		Password:          cfg.Upstream.Password,
		RequestsPerMinute: cfg.Upstream.RequestsPerMinute,
	})
	defer source.Close()

	observer := track.Observer{
		Latitude:  cfg.Observer.Latitude,
		Longitude: cfg.Observer.Longitude,
	}
	filterCfg := track.FilterConfig{
		SearchRadiusKm:    cfg.Tracking.SearchRadiusKm,
		MinElevationDeg:   cfg.Tracking.MinElevationDeg,
		MinAltitudeM:      cfg.Tracking.MinAltitudeM,
		FilterDeparting:   cfg.Tracking.FilterDeparting,
		ApproachWindowDeg: cfg.Tracking.ApproachWindowDeg,
	}

	// The hub counts subscribers into the poller; the poller publishes
	// snapshots back into the hub and the sighting tracker.
	var h *hub.Hub
	publish := func(snapshot track.Snapshot) {
		// The primary carries type and photo metadata so subscribers
		// can show what they are looking at. Cached after the first
		// lookup per airframe.
		if lookup != nil {
			if p := snapshot.Primary(); p != nil {
				lookupCtx, lookupCancel := context.WithTimeout(ctx, 2*time.Second)
				if name, img, err := lookup(lookupCtx, p.ID); err == nil {
					p.TypeName, p.ImageURL = name, img
				}
				lookupCancel()
			}
		}
		h.Publish(snapshot)
		seen := make([]sightings.Seen, len(snapshot.Visible))
		for i, a := range snapshot.Visible {
			seen[i] = sightings.Seen{ID: a.ID, Callsign: a.Callsign}
		}
		tracker.Observe(snapshot.At, seen)
	}
	poller := track.NewPoller(source, observer, cfg.Tracking.SearchRadiusKm,
		filterCfg, track.PollerConfig{
			Interval:      cfg.Tracking.PollInterval(),
			IdleStopDelay: cfg.Tracking.IdleStopDelay(),
		}, publish)
	poller.Start(ctx)
	defer poller.Close()

	h = hub.New(poller, cfg.Tracking.DashboardListSize)
	go h.Run(ctx)

	authSvc := auth.NewService(auth.Config{
		JWTSecret:     cfg.Auth.JWTSecret,
		TokenDuration: time.Duration(cfg.Auth.TokenDurationHours) * time.Hour,
	})

	limits := ratelimit.Config{
		MaxConnectionsPerIP: cfg.Limits.MaxConnectionsPerIP,
		ConnectionLimit:     cfg.Limits.ConnectionRateLimit,
		ConnectionWindow:    time.Duration(cfg.Limits.ConnectionRateWindowSeconds) * time.Second,
		MessageLimit:        cfg.Limits.MessageRateLimit,
		MessageWindow:       time.Duration(cfg.Limits.MessageRateWindowSeconds) * time.Second,
		ViolationCooldown:   time.Duration(cfg.Limits.ViolationCooldownSeconds) * time.Second,
	}
	gate := ratelimit.NewConnectionGate(limits)

	// Housekeeping: drop idle rate-limit state and stale sighting
	// bookkeeping.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gate.Prune(10 * time.Minute)
				tracker.PruneSeen()
			}
		}
	}()

	deps := hub.Deps{
		Gate:        gate,
		Limits:      limits,
		Auth:        authSvc,
		RequireAuth: cfg.Auth.RequireAuth,
		Logbook:     tracker,
		ConfigPayload: map[string]any{
			"observer_name":       cfg.Observer.Name,
			"home_lat":            cfg.Observer.Latitude,
			"home_lon":            cfg.Observer.Longitude,
			"search_radius_km":    cfg.Tracking.SearchRadiusKm,
			"min_elevation_deg":   cfg.Tracking.MinElevationDeg,
			"poll_interval_sec":   cfg.Tracking.PollIntervalSeconds,
			"approach_window_deg": cfg.Tracking.ApproachWindowDeg,
			"filter_departing":    cfg.Tracking.FilterDeparting,
		},
	}

	router := buildRouter(cfg, authSvc, h, deps)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("📡 Listening on %s", httpServer.Addr)
		var err error
		if cfg.Server.TLSEnabled {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("👋 Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}

	log.Println("✅ Server stopped")
}

// buildRouter assembles the chi middleware stack and routes.
func buildRouter(cfg *config.Config, authSvc *auth.Service, h *hub.Hub, deps hub.Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.Server.CORSOrigins),
	}

	r.Get("/ws", hub.ServeWS(h, deps, upgrader))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"subscribers": h.SubscriberCount(),
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", handleLogin(authSvc))
	})

	if cfg.Server.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(cfg.Server.StaticDir))
		r.Handle("/*", fileServer)
		log.Printf("📁 Serving static files from: %s", cfg.Server.StaticDir)
	}

	return r
}

// originChecker accepts the configured origins; "*" accepts anything.
func originChecker(origins []string) func(*http.Request) bool {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = true
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := strings.ToLower(r.Header.Get("Origin"))
		// Non-browser clients send no Origin header.
		if origin == "" {
			return true
		}
		return allowed[origin]
	}
}

// handleLogin issues session tokens. Credentials come from the
// environment: OVERHEAD_LOGIN_USER and OVERHEAD_LOGIN_PASSWORD_HASH
// (a bcrypt hash). The route answers 503 until both are set.
func handleLogin(authSvc *auth.Service) http.HandlerFunc {
	user := os.Getenv("OVERHEAD_LOGIN_USER")
	hash := os.Getenv("OVERHEAD_LOGIN_PASSWORD_HASH")

	return func(w http.ResponseWriter, r *http.Request) {
		if user == "" || hash == "" {
			http.Error(w, "Login is not configured", http.StatusServiceUnavailable)
			return
		}

		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if req.Username != user {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		if err := authSvc.ComparePassword(hash, req.Password); err != nil {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		token, err := authSvc.GenerateToken(req.Username)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"token":   token,
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
