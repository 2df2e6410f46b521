package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cardwise/rewards/internal/catalog"
	"github.com/cardwise/rewards/internal/expiry"
	"github.com/cardwise/rewards/internal/middleware"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	_ "github.com/lib/pq"
)

// App is the main application. It wires the repository, service and HTTP API
// together and owns their lifecycle.
type App struct {
	srv    *http.Server
	wg     *sync.WaitGroup
	Addr   string
	logger *slog.Logger
	config *Config
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "rewards"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	router := chi.NewRouter()
	router.Use(middleware.NewStructuredLogger(a.logger))

	var repository *Repository
	switch a.config.RepoBackend {
	case "pg":
		if a.config.DSN == "" {
			return fmt.Errorf("dsn is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		repository = NewPGRepository(db)
	case "mem":
		repository = NewRepository()
	default:
		return fmt.Errorf("unsupported repo_backend=%s", a.config.RepoBackend)
	}

	if a.config.ExpiryTZ != "" {
		if loc, err := time.LoadLocation(a.config.ExpiryTZ); err == nil {
			expiry.SetDefaultLocation(loc)
		} else {
			a.logger.Info("invalid expiry_tz; using UTC", slog.String("tz", a.config.ExpiryTZ), slog.Any("err", err))
		}
	}

	cat, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("loading conversion catalog: %w", err)
	}

	svc := NewService(repository, cat)
	api := NewAPI(svc, []byte(a.config.TokenSecret))
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler: router,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	a.srv.Shutdown(context.Background())

	a.wg.Wait()

	a.logger.Info("app stopped")
}
