package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cortexlab/fedhub/pkg/api"
	"github.com/cortexlab/fedhub/pkg/blob"
	"github.com/cortexlab/fedhub/pkg/config"
	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/events"
	"github.com/cortexlab/fedhub/pkg/log"
	"github.com/cortexlab/fedhub/pkg/metrics"
	"github.com/cortexlab/fedhub/pkg/orchestrator"
	"github.com/cortexlab/fedhub/pkg/registry"
	"github.com/cortexlab/fedhub/pkg/scheduler"
	"github.com/cortexlab/fedhub/pkg/storage"
	"github.com/cortexlab/fedhub/pkg/syncer"
	"github.com/cortexlab/fedhub/pkg/token"
	"github.com/cortexlab/fedhub/pkg/trainer"
	"github.com/cortexlab/fedhub/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fedhub",
	Short: "Fedhub - federated learning aggregation server",
	Long: `Fedhub collects on-device interaction logs and client-trained intent
models, periodically retrains a base classifier, fuses client models into a
weighted voting ensemble, and publishes versioned artifacts for download.`,
	Version: Version,
}

var configFile string

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Fedhub version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the aggregation server",
	Long: `Run the aggregation server: HTTP API, training orchestrator, training
scheduler and database snapshot syncer. Configuration comes from the
environment, with an optional YAML file underneath.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(configFile)
	},
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Blob backend.
	blobs, err := buildBlobStorage(cfg)
	if err != nil {
		return err
	}
	metrics.RegisterComponent("blob_store", true, "")

	// Restore the newest database snapshot when no local database exists
	// yet (fresh host picking up existing state).
	if err := maybeRestoreSnapshot(cfg, blobs); err != nil {
		return err
	}

	store, err := storage.NewBoltStore(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("database", true, "")

	if err := seedBaseVersion(store, cfg.ModelExt); err != nil {
		return err
	}

	// Components.
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker)

	reg := registry.New(store, blobs, cfg.ModelExt)
	tr := trainer.New(trainer.DefaultConfig(), trainer.NewPreprocessor())

	orch := orchestrator.New(store, blobs, tr, reg, broker, orchestrator.Config{
		ModelExt:       cfg.ModelExt,
		MinRows:        cfg.MinTrainingRows,
		PendingTrigger: cfg.PendingTrigger,
		StaleHours:     cfg.StaleHours,
		NewRowsTrigger: cfg.NewRowsTrigger,
		RetainModels:   cfg.RetainModels,
	})

	sync := syncer.New(store, blobs, broker, cfg.SnapshotDebounce)
	store.OnCommit(sync.MarkDirty)

	sched := scheduler.New(orch, cfg.TrainHour)
	collector := metrics.NewCollector(store)

	server := api.NewServer(store, blobs, reg, orch, broker, api.Config{
		Listen:         cfg.Listen,
		ModelExt:       cfg.ModelExt,
		MaxUploadBytes: cfg.MaxUploadBytes,
		StorageMode:    string(cfg.StorageMode),
		Version:        Version,
		CORSOrigins:    cfg.CORSOrigins,
	})

	orch.Start()
	sync.Start()
	sched.Start()
	collector.Start()
	metrics.RegisterComponent("scheduler", true, "")

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(server.Start)
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	err = g.Wait()

	// Orderly teardown: stop producers, then flush the final snapshot.
	sched.Stop()
	collector.Stop()
	orch.Stop()
	sync.Stop()

	logger.Info().Msg("shutdown complete")
	return err
}

// buildBlobStorage selects the configured backend. Blob mode without
// working credentials is a startup error, not a runtime surprise.
func buildBlobStorage(cfg *config.Config) (blob.Storage, error) {
	if cfg.StorageMode == config.StorageModeLocal {
		return blob.NewLocal(cfg.DataDir + "/blobs")
	}

	tokenURL := strings.TrimSuffix(cfg.BlobAPIBase, "/2") + "/oauth2/token"
	tokens, err := token.NewManager(cfg.TokensPath(), tokenURL, token.State{
		AccessToken:  cfg.BlobAccessSeed,
		RefreshToken: cfg.BlobRefresh,
		AppKey:       cfg.BlobAppKey,
		AppSecret:    cfg.BlobAppSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}
	if !tokens.Configured() {
		return nil, fmt.Errorf("%w: blob storage selected but no refresh token available", errdefs.ErrUnconfigured)
	}
	return blob.NewRemote(cfg.BlobAPIBase, cfg.BlobContentBase, tokens), nil
}

// maybeRestoreSnapshot pulls the latest pushed snapshot when the local
// database file does not exist yet.
func maybeRestoreSnapshot(cfg *config.Config, blobs blob.Storage) error {
	if _, err := os.Stat(cfg.DBPath()); err == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	data, err := blobs.FetchDBSnapshot(ctx)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			log.WithComponent("main").Info().Msg("no remote snapshot, starting fresh")
			return nil
		}
		return fmt.Errorf("fetch database snapshot: %w", err)
	}
	if err := os.WriteFile(cfg.DBPath(), data, 0o600); err != nil {
		return fmt.Errorf("restore database snapshot: %w", err)
	}
	log.WithComponent("main").Info().Int("bytes", len(data)).Msg("database restored from snapshot")
	return nil
}

// seedBaseVersion guarantees the 1.0.0 alias row exists. The row's metadata
// describes the shipped seed model; downloads of 1.0.0 always resolve to
// the latest published artifact regardless.
func seedBaseVersion(store storage.Store, ext string) error {
	if _, err := store.GetModelVersion(registry.BaseVersion); err == nil {
		return nil
	} else if !errors.Is(err, errdefs.ErrNotFound) {
		return err
	}

	now := time.Now()
	return store.SaveModelVersion(&types.ModelVersion{
		Version:          registry.BaseVersion,
		BlobRef:          blob.MakeRef(blob.SchemeBlob, blob.FolderBaseModel+"/model_latest"+ext),
		Accuracy:         0.92,
		TrainingDataSize: 1000,
		TrainingDate:     now,
		CreatedAt:        now,
	})
}

// logEvents mirrors broker events into the structured log.
func logEvents(broker *events.Broker) {
	sub := broker.Subscribe()
	for ev := range sub {
		log.WithComponent("events").Info().
			Str("type", string(ev.Type)).
			Fields(map[string]interface{}{"metadata": ev.Metadata}).
			Msg(ev.Message)
	}
}
