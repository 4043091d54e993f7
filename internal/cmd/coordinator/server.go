package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	apihttp "github.com/openparlor/parlor/internal/api/http"
	"github.com/openparlor/parlor/internal/coord/bus"
	"github.com/openparlor/parlor/internal/coord/capacity"
	coord "github.com/openparlor/parlor/internal/coord/coordinator"
	"github.com/openparlor/parlor/internal/coord/event"
	"github.com/openparlor/parlor/internal/coord/grant"
	"github.com/openparlor/parlor/internal/storage"
	"github.com/openparlor/parlor/internal/storage/memory"
	"github.com/openparlor/parlor/internal/storage/sqlite"
)

const httpShutdownTimeout = 5 * time.Second

// Server hosts the coordinator: the HTTP API plus a gRPC health endpoint for
// orchestrator liveness checks.
type Server struct {
	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *health.Server
	grpcLis     net.Listener
	coordinator *coord.Coordinator
	store       storage.SessionStore
}

// NewServer wires the coordination core from configuration.
func NewServer(cfg Config) (*Server, error) {
	rules, err := LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	grantCfg, err := grant.LoadConfigFromEnv(nil)
	if err != nil {
		return nil, err
	}
	store, err := openSessionStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	transport := bus.NewMemory()
	tracker := capacity.NewTracker()
	c := coord.New(coord.Options{
		Store:     store,
		Emitter:   event.NewEmitter(transport),
		Durations: rules.Durations(),
	})
	if err := c.Resume(context.Background()); err != nil {
		closeSessionStore(store)
		return nil, fmt.Errorf("resume sessions: %w", err)
	}

	handler := apihttp.NewHandler(c, transport, tracker, grantCfg, rules.Channel)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: apihttp.NewRouter(handler),
	}

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		closeSessionStore(store)
		return nil, fmt.Errorf("listen on grpc port %d: %w", cfg.GRPCPort, err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		httpServer:  httpServer,
		grpcServer:  grpcServer,
		health:      healthServer,
		grpcLis:     grpcLis,
		coordinator: c,
		store:       store,
	}, nil
}

// Serve blocks until the context ends or a server fails.
func (s *Server) Serve(ctx context.Context) error {
	defer s.close()

	log.Printf("coordinator http listening at %s, grpc health at %s",
		s.httpServer.Addr, s.grpcLis.Addr())

	serveErr := make(chan error, 2)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("serve http: %w", err)
			return
		}
		serveErr <- nil
	}()
	go func() {
		if err := s.grpcServer.Serve(s.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr <- fmt.Errorf("serve grpc: %w", err)
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("coordinator: http shutdown: %v", err)
		}
		s.grpcServer.GracefulStop()
		return nil
	case err := <-serveErr:
		return err
	}
}

func (s *Server) close() {
	s.coordinator.Close()
	closeSessionStore(s.store)
}

// openSessionStore opens the configured store: SQLite when a path is set,
// in-memory otherwise.
func openSessionStore(path string) (storage.SessionStore, error) {
	if path == "" {
		log.Printf("coordinator: no db path configured, using in-memory session store")
		return memory.NewStore(), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func closeSessionStore(store storage.SessionStore) {
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Printf("coordinator: close session store: %v", err)
		}
	}
}
