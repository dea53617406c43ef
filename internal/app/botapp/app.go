package botapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/app/apiapp"
	"github.com/VghostS/backNotifications/internal/config"
	"github.com/VghostS/backNotifications/internal/infra/gameserver"
	tginfra "github.com/VghostS/backNotifications/internal/infra/telegram"
	"github.com/VghostS/backNotifications/internal/jobs/broadcast"
	"github.com/VghostS/backNotifications/internal/jobs/reaper"
	pgrepo "github.com/VghostS/backNotifications/internal/repo/postgres"
	redrepo "github.com/VghostS/backNotifications/internal/repo/redis"
	authsvc "github.com/VghostS/backNotifications/internal/services/auth"
	catalogsvc "github.com/VghostS/backNotifications/internal/services/catalog"
	"github.com/VghostS/backNotifications/internal/services/fulfillment"
	ledgersvc "github.com/VghostS/backNotifications/internal/services/ledger"
	paymentsvc "github.com/VghostS/backNotifications/internal/services/payments"
	ratesvc "github.com/VghostS/backNotifications/internal/services/rate"
	subsvc "github.com/VghostS/backNotifications/internal/services/subscribers"
	"github.com/VghostS/backNotifications/migrations"
)

type App struct {
	cfg         config.Config
	logger      *zap.Logger
	postgres    *pgxpool.Pool
	redis       *goredis.Client
	bot         *tginfra.Bot
	messenger   Messenger
	catalog     *catalogsvc.Catalog
	ledger      *ledgersvc.Ledger
	payments    *paymentsvc.Service
	subscribers *subsvc.Service
	notifier    *fulfillment.Notifier
	reaper      *reaper.Job
	broadcast   *broadcast.Job
	jwt         *authsvc.JWTManager
	api         *apiapp.App
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	items, err := catalogsvc.New(cfg.Catalog.Items)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	ledger := ledgersvc.New(items, logger)

	var (
		pool    *pgxpool.Pool
		journal *pgrepo.PurchaseJournalRepo
	)
	if strings.TrimSpace(cfg.Postgres.DSN) != "" {
		if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
			logger.Warn("postgres init failed, purchase journal disabled", zap.Error(err))
		} else if err := pgrepo.Migrate(ctx, p, migrations.Files); err != nil {
			logger.Warn("postgres migrations failed, purchase journal disabled", zap.Error(err))
			p.Close()
		} else {
			pool = p
			journal = pgrepo.NewPurchaseJournalRepo(pool)
			ledger.AttachJournal(journal)
		}
	} else {
		logger.Info("POSTGRES_DSN is empty, purchase journal disabled")
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := redrepo.Ping(ctx, redisClient); err != nil {
		logger.Warn("redis unavailable, subscribers and rate limits degraded", zap.Error(err))
	}

	gameClient, err := gameserver.NewClient(cfg.Fulfillment.GameServerURL, cfg.Fulfillment.APIKey, cfg.Fulfillment.AttemptTimeout)
	if err != nil {
		closeStores(pool, redisClient)
		return nil, fmt.Errorf("init game server client: %w", err)
	}
	notifier := fulfillment.NewNotifier(gameClient, gameserver.IsRetryable, fulfillment.Config{
		AttemptTimeout:  cfg.Fulfillment.AttemptTimeout,
		MaxAttempts:     cfg.Fulfillment.MaxAttempts,
		InitialInterval: cfg.Fulfillment.InitialInterval,
		MaxInterval:     cfg.Fulfillment.MaxInterval,
		QueueSize:       cfg.Fulfillment.QueueSize,
		Workers:         cfg.Fulfillment.Workers,
	}, logger)

	var bot *tginfra.Bot
	if strings.TrimSpace(cfg.Bot.Token) != "" {
		bot, err = tginfra.NewBot(cfg.Bot.Token, logger)
		if err != nil {
			closeStores(pool, redisClient)
			return nil, fmt.Errorf("init telegram bot: %w", err)
		}
	} else {
		logger.Warn("BOT_TOKEN is empty, telegram listener disabled")
	}

	deps := paymentsvc.Dependencies{
		Ledger:    ledger,
		Catalog:   items,
		Fulfiller: notifier,
		Limiter: ratesvc.NewLimiter(
			redrepo.NewRateRepo(redisClient),
			cfg.Payments.InvoicesPerMinute,
			cfg.Payments.InvoicesPerHour,
		),
		Logger: logger,
	}
	if bot != nil {
		deps.Invoices = invoiceGateway{sender: bot, providerToken: cfg.Payments.ProviderToken}
		deps.PreCheckout = bot
		deps.Refunds = bot
	}
	payments := paymentsvc.NewService(deps, paymentsvc.Config{
		Currency:           cfg.Payments.Currency,
		MaxQuantity:        cfg.Payments.MaxQuantity,
		PreCheckoutTimeout: cfg.Payments.PreCheckoutTimeout,
		RefundTimeout:      cfg.Payments.RefundTimeout,
	})

	subscribers := subsvc.NewService(redrepo.NewSubscriberRepo(redisClient), logger)
	jwt := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Bot.OperatorIDs)

	apiDeps := apiapp.Dependencies{
		Purchases: ledger,
		Refunds:   payments,
		Ledger:    ledger,
		Retries:   notifier,
		JWT:       jwt,
		Logger:    logger,
	}
	if journal != nil {
		apiDeps.History = journal
	}
	api, err := apiapp.New(cfg.HTTP, apiDeps, logger)
	if err != nil {
		closeStores(pool, redisClient)
		return nil, fmt.Errorf("init operator api: %w", err)
	}

	app := &App{
		cfg:         cfg,
		logger:      logger,
		postgres:    pool,
		redis:       redisClient,
		bot:         bot,
		catalog:     items,
		ledger:      ledger,
		payments:    payments,
		subscribers: subscribers,
		notifier:    notifier,
		reaper:      reaper.New(ledger, cfg.Reaper.PendingTTL, cfg.Reaper.ChargeTimeout, logger),
		jwt:         jwt,
		api:         api,
	}
	if bot != nil {
		app.messenger = bot
		if cfg.Broadcast.Enabled {
			app.broadcast = broadcast.New(subscribers, bot, cfg.Broadcast.Messages,
				cfg.Broadcast.MinInterval, cfg.Broadcast.MaxInterval, logger)
		}
	}

	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("bot app started", zap.Int("catalog_items", len(a.catalog.List())))

	errCh := make(chan error, 5)
	go func() {
		errCh <- a.notifier.Run(ctx)
	}()
	go func() {
		errCh <- a.runReaperLoop(ctx)
	}()
	if a.broadcast != nil {
		go func() {
			errCh <- a.broadcast.Run(ctx)
		}()
	}
	if a.api != nil {
		go func() {
			errCh <- a.api.Run()
		}()
	}
	if a.bot != nil {
		a.logger.Info("telegram listener started", zap.String("bot", a.bot.Username()))
		go func() {
			errCh <- a.bot.Listen(ctx, a.cfg.Bot.PollTimeout, a.handlers())
		}()
	}

	for {
		select {
		case <-ctx.Done():
			a.shutdownAPI()
			a.logger.Info("bot app stopped", zap.Int("undelivered_retries", a.notifier.Pending()))
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			a.shutdownAPI()
			return err
		}
	}
}

func (a *App) handlers() tginfra.Handlers {
	return tginfra.Handlers{
		OnCommand:     a.handleCommand,
		OnCallback:    a.handleCallback,
		OnPreCheckout: a.handlePreCheckout,
		OnPayment:     a.handlePayment,
	}
}

func (a *App) runReaperLoop(ctx context.Context) error {
	interval := a.cfg.Reaper.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.reaper.Run(ctx); err != nil {
				a.logger.Warn("purchase reaper failed", zap.Error(err))
			}
		}
	}
}

func (a *App) shutdownAPI() {
	if a.api == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.api.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown operator api", zap.Error(err))
	}
}

func (a *App) Close() {
	closeStores(a.postgres, a.redis)
}

func closeStores(pool *pgxpool.Pool, redisClient *goredis.Client) {
	if pool != nil {
		pool.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
