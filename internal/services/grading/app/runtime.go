package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/platform/timeouts"
	httpapi "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/api/http"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/publish/logpub"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/publish/natspub"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/storage/memory"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/storage/postgres"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Store engines selectable at startup.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

const (
	defaultHTTPAddr   = ":8095"
	defaultHealthPort = 8096
	defaultDBPath     = "data/grading.db"
	healthService     = "grading.runtime"
)

// RuntimeConfig controls grading startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	HTTPAddr              string
	HealthPort            int
	Store                 string
	DBPath                string
	PostgresDSN           string
	NATSURL               string
	NATSSubject           string
	PolicyFile            string
	DefaultPolicy         domain.ExamPolicy
	ContentionMaxAttempts int
	AutoFinalize          bool
	Dispatch              DispatcherConfig
}

// Store is what the runtime needs from a storage engine.
type Store interface {
	domain.Store
	domain.OutboxStore
	Close() error
}

// OpenStore opens the configured storage engine.
func OpenStore(ctx context.Context, cfg RuntimeConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", StoreSQLite:
		path := cfg.DBPath
		if strings.TrimSpace(path) == "" {
			path = defaultDBPath
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create grading storage dir: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open grading sqlite store: %w", err)
		}
		return store, nil
	case StorePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open grading postgres store: %w", err)
		}
		return store, nil
	case StoreMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

type closingPublisher interface {
	Publisher
	Close() error
}

type nopCloser struct {
	Publisher
}

func (nopCloser) Close() error { return nil }

func openPublisher(cfg RuntimeConfig) (closingPublisher, error) {
	if strings.TrimSpace(cfg.NATSURL) == "" {
		log.Printf("no NATS url configured; finalized events go to the log")
		return nopCloser{logpub.New(nil)}, nil
	}
	publisher, err := natspub.Connect(cfg.NATSURL, cfg.NATSSubject, "exam-office-grading")
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

// Run starts the grading HTTP API, health server, and outbox dispatcher and
// blocks until ctx is canceled or one of them fails.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.HealthPort <= 0 {
		cfg.HealthPort = defaultHealthPort
	}
	if cfg.DefaultPolicy == (domain.ExamPolicy{}) {
		cfg.DefaultPolicy = domain.DefaultExamPolicy()
	}
	if err := cfg.DefaultPolicy.Validate(); err != nil {
		return fmt.Errorf("default exam policy: %w", err)
	}

	openCtx, cancelOpen := context.WithTimeout(ctx, timeouts.StoreOpen)
	store, err := OpenStore(openCtx, cfg)
	cancelOpen()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close grading store: %v", closeErr)
		}
	}()

	publisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			log.Printf("close publisher: %v", closeErr)
		}
	}()

	dispatcher := NewDispatcher(store, publisher, cfg.Dispatch, nil)
	service := NewService(store, cfg.AutoFinalize,
		domain.WithDefaultPolicy(cfg.DefaultPolicy),
		domain.WithMaxAttempts(cfg.ContentionMaxAttempts),
		domain.WithFinalizedHook(func(domain.FinalResult) { dispatcher.Wake() }),
	)

	if strings.TrimSpace(cfg.PolicyFile) != "" {
		policies, err := LoadPolicyFile(cfg.PolicyFile, cfg.DefaultPolicy)
		if err != nil {
			return err
		}
		if err := registerPolicies(ctx, service, policies); err != nil {
			return err
		}
		log.Printf("registered %d exam policies from %s", len(policies), cfg.PolicyFile)
	}

	api := httpapi.New(service)
	api.Server.ReadHeaderTimeout = timeouts.ReadHeader

	healthListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HealthPort))
	if err != nil {
		return fmt.Errorf("listen on health port %d: %w", cfg.HealthPort, err)
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Printf("grading health server listening at %v", healthListener.Addr())
		return grpcServer.Serve(healthListener)
	})
	group.Go(func() error {
		log.Printf("grading http api listening at %s", cfg.HTTPAddr)
		if err := api.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http api: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return dispatcher.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown http api: %v", err)
		}
		stopGracefully(grpcServer, timeouts.Shutdown)
		return nil
	})

	err = group.Wait()
	log.Printf("grading service stopped")
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func stopGracefully(server *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		server.Stop()
	}
}
