package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pcosdx/db"
	qhttp "pcosdx/http"
	"pcosdx/ml"
	"pcosdx/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the form catalog and predictions over HTTP",
	Long: `Starts the JSON API. When no artifact exists yet the server still starts
and answers prediction requests with 503 until a model is trained; with
model.watch enabled a newly written artifact is picked up without restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides http.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if servePort != 0 {
		cfg.Http.Port = servePort
	}
	opts := []ml.PredictorOption{ml.WithCache(cfg.Model.CacheSize), ml.WithLogger(logger)}

	holder := ml.NewHolder(nil)
	predictor, err := ml.LoadModel(cfg.Model.ArtifactPath, opts...)
	switch {
	case err == nil:
		holder.Swap(predictor)
		schema, _ := predictor.Schema()
		logger.Info("model loaded",
			zap.String("path", cfg.Model.ArtifactPath),
			zap.Int("features", schema.Len()),
			zap.Time("trained_at", predictor.Metadata().TrainedAt),
		)
	case errors.Is(err, ml.ErrModelUnavailable):
		logger.Warn("model unavailable, predictions will fail until one is trained",
			zap.String("path", cfg.Model.ArtifactPath), zap.Error(err))
	default:
		return err
	}

	metrics := monitoring.NewCollector()
	hub := monitoring.NewHub(cfg.Http.AllowedOrigins, logger)
	handlerOpts := []qhttp.HandlerOption{
		qhttp.WithLogger(logger),
		qhttp.WithMetrics(metrics),
		qhttp.WithHub(hub),
	}
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		handlerOpts = append(handlerOpts, qhttp.WithStore(store))
	}

	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, qhttp.NewHandler(holder, handlerOpts...))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		return server.Stop(context.Background())
	})
	g.Go(func() error {
		return monitoring.PublishSnapshots(gctx, hub, metrics, cfg.Http.StreamInterval)
	})
	if cfg.Model.Watch {
		g.Go(func() error {
			if err := ml.WatchArtifact(gctx, holder, cfg.Model.ArtifactPath, logger, opts...); err != nil {
				logger.Error("artifact watcher stopped, serving without hot reload", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
