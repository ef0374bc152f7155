package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leadengine/whatsapp-ingest/core/config"
	"github.com/leadengine/whatsapp-ingest/core/database"
	"github.com/leadengine/whatsapp-ingest/infrastructure/broker"
	"github.com/leadengine/whatsapp-ingest/infrastructure/mediastore"
	"github.com/leadengine/whatsapp-ingest/infrastructure/realtime"
	"github.com/leadengine/whatsapp-ingest/infrastructure/storage"
	"github.com/leadengine/whatsapp-ingest/infrastructure/valkey"
	"github.com/leadengine/whatsapp-ingest/pkg/dedupe"
	"github.com/leadengine/whatsapp-ingest/usecase"
)

var (
	cfg *config.Config

	store       *storage.Store
	vkClient    *valkey.Client
	mediaStore  *mediastore.DiskStore
	brokerCli   *broker.Client
	hub         *realtime.Hub
	dedupeCache *dedupe.Cache

	provisioner *usecase.ProvisionerService
	inboundSvc  *usecase.InboundService
	ackSvc      *usecase.AckService
	pollSvc     *usecase.PollService
	dispatcher  *usecase.Dispatcher
	mediaWorker *usecase.MediaRetryWorker
)

var rootCmd = &cobra.Command{
	Use:   "whatsapp-ingest",
	Short: "LeadEngine WhatsApp ingestion service",
	Long:  "Receives WhatsApp broker webhooks and turns them into tickets, messages and leads.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalln(err)
	}
}

func init() {
	time.Local = time.UTC
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	cobra.OnInitialize(initApp)
}

// storeDLQ adapts the store's failed-event table onto the DLQ port.
type storeDLQ struct {
	store *storage.Store
}

func (d storeDLQ) Send(ctx context.Context, tenantID, reason string, payload map[string]any) error {
	return d.store.SaveFailedEvent(ctx, tenantID, reason, payload)
}

func initApp() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	conn, err := database.New(cfg)
	if err != nil {
		logrus.Fatalf("Database connection failed: %v", err)
	}
	if conn.Degraded {
		logrus.Warn("[STORAGE] DATABASE_URL is not set, running degraded with in-memory storage")
	}

	store = storage.New(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		logrus.Fatalf("Schema migration failed: %v", err)
	}

	dedupeOpts := []dedupe.Option{}
	if cfg.Valkey.Enabled {
		vkClient, err = valkey.NewClient(cfg.Valkey)
		if err != nil {
			logrus.Fatalf("Valkey connection failed: %v", err)
		}
		dedupeOpts = append(dedupeOpts, dedupe.WithBackend(valkey.NewDedupeBackend(vkClient)))
	}
	dedupeCache = dedupe.New(dedupeOpts...)

	mediaStore, err = mediastore.NewDiskStore(cfg.Media)
	if err != nil {
		logrus.Fatalf("Media store init failed: %v", err)
	}

	brokerCli = broker.New(cfg.Broker)
	hub = realtime.NewHub(vkClient)

	provisioner = usecase.NewProvisionerService(store)
	pollSvc = usecase.NewPollService(store, hub)
	ackSvc = usecase.NewAckService(store, dedupeCache, hub, cfg.Webhook.AckLateThreshold)
	inboundSvc = usecase.NewInboundService(
		store,
		dedupeCache,
		provisioner,
		brokerCli,
		mediaStore,
		hub,
		pollSvc,
		storeDLQ{store: store},
		usecase.InboundConfig{
			AutoProvisionInstances:   cfg.Webhook.AutoProvisionInstances,
			DefaultTenantID:          cfg.Webhook.DefaultTenantID,
			EmitTicketRealtimeEvents: cfg.Webhook.EmitTicketRealtimeEvents,
			DirectDownloadTimeout:    cfg.Broker.DirectTimeout,
			BrokerDownloadTimeout:    cfg.Broker.Timeout,
		},
	)
	dispatcher = usecase.NewDispatcher(inboundSvc, ackSvc, pollSvc)
	mediaWorker = usecase.NewMediaRetryWorker(store, brokerCli, mediaStore, usecase.MediaRetryConfig{
		Interval:  cfg.Worker.Interval,
		BatchSize: cfg.Worker.BatchSize,
		MaxRuns:   cfg.Worker.MaxRuns,
	})
}

// stopApp releases shared clients on shutdown.
func stopApp() {
	if vkClient != nil {
		vkClient.Close()
	}
}
