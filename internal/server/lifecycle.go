// Package server provides application lifecycle management including
// graceful startup and shutdown with signal handling.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start begins the service. It should block until the service is stopped
	// or an error occurs.
	Start() error
	// Stop gracefully stops the service.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// ContextService adapts a blocking run function that honours context
// cancellation. Stop cancels the context and waits for run to return.
type ContextService struct {
	run    func(ctx context.Context) error
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewContextService wraps run.
//
// Precondition: run must return once its context is cancelled.
func NewContextService(run func(ctx context.Context) error) *ContextService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ContextService{run: run, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Start runs the wrapped function until Stop.
func (c *ContextService) Start() error {
	defer close(c.done)
	return c.run(c.ctx)
}

// Stop cancels the run context and waits for Start to return.
//
// Precondition: Start must have been called.
func (c *ContextService) Stop() {
	c.cancel()
	<-c.done
}

// Lifecycle manages the startup and shutdown of multiple services.
// Services are started in order and stopped in reverse order.
type Lifecycle struct {
	logger   *zap.Logger
	services []namedService
	mu       sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates a new Lifecycle manager.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		logger: logger.Named("lifecycle"),
	}
}

// Add registers a named service for lifecycle management.
// Services are started in the order they are added.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts all services and blocks until a termination signal is received
// (SIGINT or SIGTERM), ctx is cancelled, or a service fails. Services are
// then stopped in reverse order.
//
// Postcondition: All services are stopped when this method returns. The
// error of the first failed service is returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	failed := l.startAll(services)
	l.logger.Info("services launched",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	runErr := l.wait(ctx, failed)
	l.stopAll(services)

	l.logger.Info("lifecycle finished",
		zap.Duration("uptime", time.Since(start)),
		zap.Bool("failed", runErr != nil),
	)
	return runErr
}

// startAll launches each service on its own goroutine. Failures are
// reported on the returned channel, which never blocks a service.
func (l *Lifecycle) startAll(services []namedService) <-chan error {
	failed := make(chan error, len(services))
	for _, ns := range services {
		go func() {
			l.logger.Debug("service starting", zap.String("service", ns.name))
			began := time.Now()
			err := ns.service.Start()
			if err == nil {
				l.logger.Debug("service returned", zap.String("service", ns.name))
				return
			}
			l.logger.Error("service failed",
				zap.String("service", ns.name),
				zap.Error(err),
				zap.Duration("uptime", time.Since(began)),
			)
			failed <- fmt.Errorf("service %s: %w", ns.name, err)
		}()
	}
	return failed
}

func (l *Lifecycle) wait(ctx context.Context, failed <-chan error) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		l.logger.Info("signal received", zap.Stringer("signal", sig))
		return nil
	case err := <-failed:
		return err
	case <-ctx.Done():
		l.logger.Info("context done")
		return nil
	}
}

func (l *Lifecycle) stopAll(services []namedService) {
	began := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		t := time.Now()
		ns.service.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(t)),
		)
	}
	l.logger.Debug("all services stopped", zap.Duration("elapsed", time.Since(began)))
}
