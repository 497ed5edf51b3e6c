package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/stocksim/internal/apperrors"
	"github.com/nkiryanov/stocksim/internal/backend"
	"github.com/nkiryanov/stocksim/internal/db"
	"github.com/nkiryanov/stocksim/internal/logger"
	"github.com/nkiryanov/stocksim/internal/middleware"
	"github.com/nkiryanov/stocksim/internal/models"
	"github.com/nkiryanov/stocksim/internal/session"
	"github.com/nkiryanov/stocksim/internal/tokenclock"
	"github.com/nkiryanov/stocksim/internal/tokenstore"
	"github.com/nkiryanov/stocksim/internal/tokenstore/memory"
	pgstore "github.com/nkiryanov/stocksim/internal/tokenstore/postgres"
	redisstore "github.com/nkiryanov/stocksim/internal/tokenstore/redis"
)

type ClientApp struct {
	cfg    *Config
	logger logger.Logger
	out    io.Writer

	store   tokenstore.Store
	cleanup []func()

	session *session.Coordinator
	api     *backend.APIClient
	term    *terminal
}

func NewClientApp(ctx context.Context, c *Config, out io.Writer) (*ClientApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ClientApp{cfg: c, logger: l, out: out, term: newTerminal(out)}

	if err := app.openStore(ctx); err != nil {
		app.Close()
		return nil, err
	}

	clock := tokenclock.New(tokenclock.RealScheduler{}, l)
	authClient := backend.NewAuthClient(c.APIAddr, l, middleware.Logger(l))

	app.session, err = session.New(ctx, session.Config{CheckInterval: c.CheckInterval}, session.Deps{
		Store:    app.store,
		Clock:    clock,
		Auth:     authClient,
		Router:   app.term,
		Notifier: app.term,
		Logger:   l,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating session. Err: %w", err)
	}

	app.api = backend.NewAPIClient(c.APIAddr, l,
		middleware.Logger(l),
		middleware.Auth(app.store, app.session),
	)

	return app, nil
}

func (a *ClientApp) openStore(ctx context.Context) error {
	switch a.cfg.Storage {
	case StorageMemory:
		a.store = memory.New(memory.NewBackend())

	case StorageRedis:
		opts, err := goredis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url. Err: %w", err)
		}
		client := goredis.NewClient(opts)
		a.cleanup = append(a.cleanup, func() { client.Close() }) // nolint:errcheck

		store, err := redisstore.New(ctx, client, a.cfg.RedisPrefix, a.logger)
		if err != nil {
			return fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		a.store = store

	case StoragePostgres:
		pool, err := db.Open(ctx, a.cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)

		store, err := pgstore.New(ctx, pool, a.logger)
		if err != nil {
			return fmt.Errorf("error while listening to db. Err: %w", err)
		}
		a.store = store

	default:
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownStorage, a.cfg.Storage)
	}

	return nil
}

// Run logs in if needed, shows stocks and keeps session alive until context is cancelled or session ends
func (a *ClientApp) Run(ctx context.Context) error {
	if !a.session.IsAuthenticated(ctx) {
		profile, err := a.session.Login(ctx, models.Credentials{Username: a.cfg.Username, Password: a.cfg.Password})
		if err != nil {
			return fmt.Errorf("login failed. Err: %w", err)
		}
		a.term.printProfile(profile)
	} else {
		claims, _ := a.session.Claims()
		fmt.Fprintf(a.out, "Session restored for %s (%s)\n", claims.Username, claims.Role) // nolint:errcheck
	}

	stocks, err := a.api.Stocks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stocks. Err: %w", err)
	}
	a.term.printStocks(stocks)

	var refresh <-chan time.Time
	if a.cfg.RefreshEvery > 0 {
		ticker := time.NewTicker(a.cfg.RefreshEvery)
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Stopped, session kept in storage")
			return nil
		case <-a.term.ended:
			a.logger.Info("Session ended")
			return nil
		case <-refresh:
			if err := a.session.Refresh(ctx); err != nil {
				a.logger.Warn("Refresh failed", "error", err)
			}
		}
	}
}

func (a *ClientApp) Close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close store", "error", err)
		}
	}
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// terminal is router and notifier of the console client
// Navigation to any screen means the session ended, there are no screens in console
type terminal struct {
	mu  sync.Mutex
	out io.Writer

	once  sync.Once
	ended chan struct{}
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out, ended: make(chan struct{})}
}

func (t *terminal) Navigate(path string) {
	t.once.Do(func() { close(t.ended) })
}

func (t *terminal) Notify(n models.Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "[%s] %s\n", n.Title, n.Message) // nolint:errcheck
}

func (t *terminal) printProfile(p models.Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "Logged in as %s (%s)\nAccount balance: %s, profit: %s\n", // nolint:errcheck
		p.Username, p.Role, p.AccountBalance.StringFixed(2), p.ProfitBalance.StringFixed(2))
}

func (t *terminal) printStocks(stocks []models.Stock) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := tabwriter.NewWriter(t.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICKER\tCOMPANY\tPRICE\tAVAILABLE") // nolint:errcheck
	for _, s := range stocks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.TickerSymbol, s.CompanyName, s.CurrentPrice.StringFixed(2), s.AvailableShares) // nolint:errcheck
	}
	w.Flush() // nolint:errcheck
}

func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string, out io.Writer) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env file: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return err
	}
	if err := c.ParseFlags(args); err != nil {
		return err
	}

	app, err := NewClientApp(ctx, c, out)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Run(ctx)
}
