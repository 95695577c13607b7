package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sightline.ai/internal/config"
	"sightline.ai/internal/coordinator"
	"sightline.ai/internal/persistence/fogstore"
	"sightline.ai/internal/persistence/mirror"
	persistlog "sightline.ai/internal/persistence/log"
	"sightline.ai/internal/persistence/snapshot"
	"sightline.ai/internal/transport/httpapi"
	"sightline.ai/internal/transport/ws"
	"sightline.ai/internal/worker"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/sightline.yaml", "config path (empty for defaults)")
		addr       = flag.String("addr", "", "http listen address (overrides http.addr)")
		workerAddr = flag.String("worker", "", "remote worker ws url (overrides worker.addr)")
		noStore    = flag.Bool("disable_store", false, "do not persist explored fog")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[sightd] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *workerAddr != "" {
		cfg.Worker.Addr = *workerAddr
	}
	if *noStore {
		cfg.Store.Disable = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	hubOpts := httpapi.HubOptions{
		NewTransport:     transportFactory(cfg, logger),
		Logger:           logger,
		SetOptions:       cfg.SetOptions(),
		DefaultTolerance: cfg.DefaultTolerance,
	}

	var store *fogstore.Store
	if !cfg.Store.Disable {
		store, err = fogstore.Open(cfg.Store.Path, fogstore.Options{Logger: logger})
		if err != nil {
			logger.Fatalf("fogstore: %v", err)
		}
		hubOpts.Store = store
	}
	var events *persistlog.EventLogger
	if cfg.Log.Dir != "" {
		events = persistlog.NewEventLogger(cfg.Log.Dir)
		hubOpts.Events = events
	}

	var mir *mirror.Mirror
	if cfg.Mirror.Enabled() {
		s3, err := mirror.NewS3(mirror.S3Options{
			Endpoint:        cfg.Mirror.Endpoint,
			Bucket:          cfg.Mirror.Bucket,
			AccessKeyID:     cfg.Mirror.AccessKeyID,
			SecretAccessKey: cfg.Mirror.SecretAccessKey,
			Secure:          cfg.Mirror.Secure,
		})
		if err != nil {
			logger.Fatalf("mirror: %v", err)
		}
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s3.EnsureBucket(ctx2); err != nil {
			logger.Printf("mirror: ensure bucket %s: %v", cfg.Mirror.Bucket, err)
		}
		cancel2()
		mir = mirror.New(s3, mirror.Options{
			BaseDir: cfg.Snapshots.Dir,
			Prefix:  cfg.Mirror.Prefix,
			Workers: cfg.Mirror.Workers,
			Logger:  logger,
		})
	}

	hub := httpapi.NewHub(hubOpts)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if cfg.Snapshots.Dir != "" && cfg.Snapshots.IntervalSec > 0 {
		g.Go(func() error {
			t := time.NewTicker(time.Duration(cfg.Snapshots.IntervalSec) * time.Second)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					writeSnapshots(hub, cfg.Snapshots.Dir, mir, logger)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		logger.Printf("http: %v", err)
	}

	if cfg.Snapshots.Dir != "" {
		writeSnapshots(hub, cfg.Snapshots.Dir, mir, logger)
	}
	mir.Close()
	if err := hub.Close(); err != nil {
		logger.Printf("close sessions: %v", err)
	}
	if store != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		if err := store.Flush(ctx2); err != nil {
			logger.Printf("fogstore flush: %v", err)
		}
		cancel2()
		_ = store.Close()
	}
	if events != nil {
		_ = events.Close()
	}
	logger.Printf("stopped")
}

func transportFactory(cfg config.Config, logger *log.Logger) httpapi.TransportFactory {
	if cfg.Worker.Addr != "" {
		return func(ctx context.Context) (coordinator.Transport, error) {
			return ws.Dial(ctx, cfg.Worker.Addr, ws.ClientOptions{Logger: logger, QueueSize: cfg.Worker.QueueSize})
		}
	}
	wlog := log.New(logger.Writer(), "[worker] ", logger.Flags())
	return func(context.Context) (coordinator.Transport, error) {
		return worker.StartLocal(worker.LocalOptions{QueueSize: cfg.Worker.QueueSize, Logger: wlog}), nil
	}
}

// writeSnapshots saves the published sets of every live session, one file
// per scene, and hands each file to the mirror when one is configured.
func writeSnapshots(hub *httpapi.Hub, dir string, mir *mirror.Mirror, logger *log.Logger) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, info := range hub.List() {
		sess, ok := hub.Get(info.ID)
		if !ok {
			continue
		}
		c := sess.Coordinator()
		explored, ok := c.Explored()
		if !ok {
			continue
		}
		snap := snapshot.FogSnapshotV1{
			Header: snapshot.Header{
				SceneID:   sess.Scene,
				SessionID: sess.ID,
				RequestID: c.LastID(),
				SavedAt:   now,
			},
			Explored: explored.String(),
		}
		if vis, ok := c.Vision(); ok {
			snap.Vision = vis.String()
		}
		path := filepath.Join(dir, snapshot.FileName(sess.Scene))
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			logger.Printf("snapshot %s: %v", sess.Scene, err)
			continue
		}
		logger.Printf("snapshot %s -> %s", sess.Scene, path)
		mir.Enqueue(path)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
