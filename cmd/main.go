package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"golang.org/x/sync/errgroup"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/config"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/infrastructure"
	"whatsapp_ai_backend/internal/interfaces"
	httpapi "whatsapp_ai_backend/internal/interfaces/http"
	"whatsapp_ai_backend/internal/repository"
	"whatsapp_ai_backend/internal/usecases"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := infrastructure.NewLogger(cfg.LogLevel, cfg.LogPretty)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgClient, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL, cfg.EmbeddingDimensions, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pgClient.Close()

	// Repositories
	conversations := repository.NewConversationRepository(pgClient.Pool)
	contacts := repository.NewContactRepository(pgClient.Pool)
	knowledge := repository.NewKnowledgeRepository(pgClient.Pool)
	products := repository.NewProductRepository(pgClient.Pool)
	configRepo := repository.NewConfigRepository(pgClient.Pool)
	templateRepo := repository.NewTemplateRepository(pgClient.Pool)
	usageRepo := repository.NewUsageRepository(pgClient.Pool)
	userRepo := repository.NewUserRepository(pgClient.Pool)

	// Model APIs
	embedder := infrastructure.NewEmbeddingClient(infrastructure.EmbeddingConfig{
		APIKey:     cfg.EmbeddingAPIKey,
		BaseURL:    cfg.EmbeddingBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		Timeout:    cfg.LLMTimeout,
	}, logger)
	reranker := infrastructure.NewRerankClient(infrastructure.RerankConfig{
		APIKey:  cfg.RerankAPIKey,
		BaseURL: cfg.RerankBaseURL,
		Model:   cfg.RerankModel,
		Timeout: cfg.LLMTimeout,
	}, logger)
	anthropic := infrastructure.NewAnthropicClient(infrastructure.AnthropicConfig{
		BaseURL: cfg.AnthropicBaseURL,
		Model:   cfg.AnthropicModel,
		Timeout: cfg.LLMTimeout,
	}, logger)

	// Channels
	limiter := infrastructure.NewSendLimiter(cfg.SendRatePerSecond, cfg.SendBurst)
	transport := infrastructure.NewChannelTransport(limiter, logger)

	templateCache := infrastructure.NewTemplateIDCache(time.Hour, 1000)
	cloud := infrastructure.NewCloudAPIClient(cfg.CloudAPIBaseURL, configRepo, templateCache, logger)
	transport.Register(entities.ChannelWhatsAppCloud, cloud.Messenger)

	waManager := infrastructure.NewWhatsAppManager(cfg.WhatsAppDevicesDir, logger)
	transport.Register(entities.ChannelWhatsApp, func(_ context.Context, orgID string) (interfaces.Messenger, error) {
		client, err := waManager.Messenger(orgID)
		if err != nil {
			return nil, err
		}
		return client, nil
	})

	var telegram *infrastructure.TelegramClient
	if cfg.TelegramToken != "" && cfg.TelegramOrganizationID != "" {
		telegram, err = infrastructure.NewTelegramClient(cfg.TelegramToken, cfg.TelegramOrganizationID, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram disabled")
		} else {
			transport.Register(entities.ChannelTelegram, func(_ context.Context, orgID string) (interfaces.Messenger, error) {
				if orgID != cfg.TelegramOrganizationID {
					return nil, apperr.ErrChannelUnavailable
				}
				return telegram, nil
			})
		}
	}

	// Reply pipeline
	detector := usecases.NewProductDetector(usecases.DefaultProductAliases)
	retriever := usecases.NewRetriever(embedder, reranker, knowledge, products, detector, usecases.RetrieverConfig{
		Dimensions: cfg.EmbeddingDimensions,
	}, logger)
	names := usecases.NewNameTracker(contacts, contacts, logger)
	composer := usecases.NewComposer(anthropic, retriever, names, conversations, conversations, configRepo, transport, usageRepo, usecases.ComposerConfig{
		DefaultAPIKey: cfg.AnthropicAPIKey,
		DefaultModel:  cfg.AnthropicModel,
	}, logger)
	processor := usecases.NewBatchProcessor(conversations, conversations, contacts, configRepo, composer, transport, logger)
	queue := infrastructure.NewDebounceQueue(cfg.DebounceWindow, cfg.BatchMaxAttempts, cfg.BatchRetryDelay, processor.Process, logger)
	inbound := usecases.NewInboundService(contacts, conversations, conversations, usageRepo, queue, logger)

	receive := func(ctx context.Context, in entities.InboundMessage) {
		if err := inbound.Receive(ctx, in); err != nil {
			logger.Error().Err(err).Str("organization_id", in.OrganizationID).Str("channel", string(in.Channel)).Msg("receive message")
		}
	}

	waManager.HandlerFactory = func(orgID string) func(interface{}) {
		return func(evt interface{}) {
			switch v := evt.(type) {
			case *events.Message:
				if in, ok := infrastructure.ParseMessage(orgID, v); ok {
					receive(ctx, in)
				}
			case *events.Receipt:
				var status string
				switch v.Type {
				case types.ReceiptTypeDelivered:
					status = entities.MessageStatusDelivered
				case types.ReceiptTypeRead:
					status = entities.MessageStatusRead
				default:
					return
				}
				for _, id := range v.MessageIDs {
					if err := inbound.UpdateDeliveryStatus(ctx, id, status); err != nil {
						logger.Warn().Err(err).Str("provider_message_id", id).Msg("update receipt")
					}
				}
			}
		}
	}

	// Dashboard
	auth := usecases.NewAuthUsecase(userRepo, cfg.JWTSecret)
	if cfg.AdminPass != "" && cfg.AdminOrgID != "" {
		if err := auth.EnsureAdmin(ctx, cfg.AdminOrgID, cfg.AdminUser, cfg.AdminPass); err != nil {
			logger.Warn().Err(err).Msg("ensure admin user")
		}
	}
	dashboard := usecases.NewDashboardUsecase(configRepo, configRepo, products, knowledge, embedder, usageRepo)
	templates := usecases.NewTemplateService(templateRepo, cloud, contacts, conversations, conversations, logger)

	syncCron, err := templates.StartSync(ctx, cfg.TemplateSyncSpec)
	if err != nil {
		return fmt.Errorf("schedule template sync: %w", err)
	}
	defer syncCron.Stop()

	// Batches whose timers were lost on the last shutdown
	pending, err := conversations.PendingTriggers(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("load pending batches")
	}
	for _, trigger := range pending {
		queue.Enqueue(trigger)
	}
	if len(pending) > 0 {
		logger.Info().Int("threads", len(pending)).Msg("re-queued pending batches")
	}

	if orgs := waManager.ReconnectExisting(ctx); len(orgs) > 0 {
		logger.Info().Strs("organizations", orgs).Msg("whatsapp devices reconnected")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	httpapi.SetupRoutes(r, httpapi.Deps{
		Inbound:     inbound,
		Auth:        auth,
		Templates:   templates,
		Dashboard:   dashboard,
		WhatsApp:    waManager,
		VerifyToken: cfg.WebhookVerifyToken,
		Logger:      logger,
	}, httpapi.NewMiddleware(auth))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx, time.Minute)
		return nil
	})
	if telegram != nil {
		g.Go(func() error {
			telegram.Poll(gctx, receive)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
		if err := queue.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("batch queue shutdown")
		}
		waManager.DisconnectAll()
		return nil
	})

	return g.Wait()
}
