// Package main provides the authoritative game host. It serves newline
// framed TCP connections and WebSocket connections on one session.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gridchase/internal/config"
	"github.com/cory-johannsen/gridchase/internal/game/match"
	"github.com/cory-johannsen/gridchase/internal/game/world"
	"github.com/cory-johannsen/gridchase/internal/network"
	"github.com/cory-johannsen/gridchase/internal/observability"
	"github.com/cory-johannsen/gridchase/internal/server"
	"github.com/cory-johannsen/gridchase/internal/session"
	"github.com/cory-johannsen/gridchase/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "gameserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger)

	var recorder match.Recorder
	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		recorder = postgres.NewMatchRepository(pool.DB())

		health := server.NewContextService(func(ctx context.Context) error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					pool.Close()
					return nil
				case <-ticker.C:
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		})
		lifecycle.Add("postgres", health)
	}

	srv, err := session.NewServer(session.ServerConfig{
		MaxClients:       cfg.Server.MaxClients,
		OutboxSize:       cfg.Server.OutboxSize,
		Settings:         cfg.Game.Settings(),
		Maps:             world.NewLoader(cfg.Game.MapsDir),
		Recorder:         recorder,
		AutostartPlayers: cfg.Game.AutostartPlayers,
		RestartDelay:     cfg.Game.RestartDelay,
	}, logger.Named("session"))
	if err != nil {
		logger.Fatal("creating session", zap.Error(err))
	}

	lifecycle.Add("session", server.NewContextService(srv.Run))
	lifecycle.Add("notifications", server.NewContextService(func(ctx context.Context) error {
		logNotifications(ctx, srv.Notifications(), logger.Named("notifications"))
		return nil
	}))

	sockOpts := network.SocketOptions{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxFrameSize: cfg.Server.MaxFrameSize,
	}
	listener := network.NewListener(cfg.Server.Addr(), sockOpts, srv.Manager(), logger.Named("tcp"))
	lifecycle.Add("tcp", &server.FuncService{
		StartFn: listener.ListenAndServe,
		StopFn:  listener.Stop,
	})

	if cfg.Server.HTTPPort != 0 {
		router := network.NewHTTPRouter(srv.Manager(), sockOpts, srv.StatusFunc(2*time.Second), srv.StartGame, logger.Named("http"))
		httpServer := network.NewHTTPServer(cfg.Server.HTTPAddr(), router, logger.Named("http"))
		lifecycle.Add("http", &server.FuncService{
			StartFn: httpServer.ListenAndServe,
			StopFn:  httpServer.Stop,
		})
	}

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("tcp_addr", cfg.Server.Addr()),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.String("map", cfg.Game.Map),
		zap.Bool("recording", recorder != nil),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func logNotifications(ctx context.Context, ch <-chan session.Notification, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ch:
			switch n := n.(type) {
			case session.LobbyChanged:
				logger.Debug("lobby changed", zap.Int("players", len(n.Players)))
			case session.GameStarting:
				logger.Debug("game starting", zap.Stringer("match_id", n.MatchID))
			case session.GameEnded:
				logger.Debug("game ended", zap.Stringer("outcome", n.Result.Outcome))
			case session.ProtocolError:
				logger.Debug("protocol error",
					zap.Int("conn_id", n.ConnID),
					zap.String("packet", n.Packet),
					zap.Bool("fatal", n.Fatal),
					zap.Error(n.Err),
				)
			case session.Disconnected:
				logger.Debug("disconnected", zap.Int("conn_id", n.ConnID), zap.NamedError("cause", n.Cause))
			}
		}
	}
}
