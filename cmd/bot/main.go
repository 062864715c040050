package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/predolabs/predo-bot/api/routes"
	"github.com/predolabs/predo-bot/internal/config"
	"github.com/predolabs/predo-bot/internal/handlers"
	mongorepo "github.com/predolabs/predo-bot/internal/repositories/mongodb"
	"github.com/predolabs/predo-bot/internal/services"
	"github.com/predolabs/predo-bot/pkg/mongodb"
	"github.com/predolabs/predo-bot/pkg/oracle"
	"github.com/predolabs/predo-bot/pkg/queue"
	"github.com/predolabs/predo-bot/pkg/telegram"
	"github.com/predolabs/predo-bot/pkg/wallet"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Env == "development" {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		os.Stderr.WriteString("init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores
	mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDB.URI)
	if err != nil {
		log.Fatal("connect to mongodb", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			log.Warn("disconnect mongodb", zap.Error(err))
		}
	}()
	db := mongoClient.Database(cfg.MongoDB.Database)

	if err := mongorepo.EnsureReceiptIndexes(ctx, db); err != nil {
		log.Fatal("ensure receipt indexes", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("connect to redis", zap.Error(err))
	}

	// Repositories
	betRepo := mongorepo.NewBetRepository(db)
	pollRepo := mongorepo.NewPollRepository(db)
	walletRepo := mongorepo.NewWalletRepository(db)
	receiptRepo := mongorepo.NewReceiptRepository(db)

	// External collaborators
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatal("authorize telegram bot", zap.Error(err))
	}
	log.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))

	notifier := telegram.NewNotifier(bot, log)
	walletClient := wallet.NewClient(cfg.Wallet.BaseURL, cfg.Wallet.APIKey, cfg.Wallet.Mock, log)
	outcomeOracle := oracle.NewClient(
		cfg.Oracle.SearchBaseURL, cfg.Oracle.SearchAPIKey, cfg.Oracle.SearchModel,
		cfg.Oracle.LLMBaseURL, cfg.Oracle.LLMAPIKey, cfg.Oracle.LLMModel,
		cfg.Oracle.Mock, log,
	)

	// Queues. Payouts are throttled hard so a burst of settlements cannot
	// hammer the wallet provider; poll tallies are lighter.
	payoutQueue := queue.New("bet-payouts", rdb, log, queue.Options{
		Attempts:    cfg.Queue.Attempts,
		BackoffBase: cfg.Queue.BackoffBase,
		RateEvery:   cfg.Queue.PayoutRateEvery,
	})
	pollQueue := queue.New("poll-processing", rdb, log, queue.Options{
		Attempts:    cfg.Queue.Attempts,
		BackoffBase: cfg.Queue.BackoffBase,
		RateEvery:   cfg.Queue.PollRateEvery,
	})
	queues := []*queue.Queue{payoutQueue, pollQueue}

	// Services
	resolutionService := services.NewResolutionService(
		betRepo, pollRepo, outcomeOracle, notifier, payoutQueue, pollQueue, cfg.Settlement, log)
	payoutService := services.NewPayoutService(
		betRepo, walletRepo, receiptRepo, walletClient, notifier, cfg.Wallet, log)
	voteService := services.NewVoteService(betRepo, pollRepo, notifier, log)
	walletService := services.NewWalletService(walletRepo, walletClient, cfg.Wallet, log)
	betService := services.NewBetService(betRepo, walletService, walletClient, cfg.Wallet, log)
	authService := services.NewAuthService(*cfg)
	schedulerService := services.NewSchedulerService(
		betRepo, pollRepo, resolutionService, cfg.Settlement.SweepInterval, log)

	payoutService.RegisterHandlers(payoutQueue)
	resolutionService.RegisterHandlers(pollQueue)
	payoutQueue.Run(ctx)
	pollQueue.Run(ctx)

	// Telegram update loop
	telegramHandler := handlers.NewTelegramHandler(bot, voteService, walletService, betService, queues, cfg, log)
	telegramHandler.Start(ctx)

	schedulerService.Start(ctx)

	// Ops/admin HTTP server
	adminHandler := handlers.NewAdminHandler(authService, queues, log)
	router := routes.SetupRouter(cfg, routes.HandlerDependencies{
		AdminHandler: adminHandler,
		Health: func(ctx context.Context) error {
			if err := mongoClient.Ping(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})
	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	go func() {
		log.Info("admin server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	// Stop intake first, then drain workers, then the HTTP server.
	telegramHandler.Stop()
	schedulerService.Stop()
	payoutQueue.Close()
	pollQueue.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown admin server", zap.Error(err))
	}
	log.Info("stopped")
}
