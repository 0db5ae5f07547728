// Package main provides a headless participant that joins a game host and
// walks its player around the grid at random.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/gridchase/internal/config"
	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/world"
	"github.com/cory-johannsen/gridchase/internal/network"
	"github.com/cory-johannsen/gridchase/internal/observability"
	"github.com/cory-johannsen/gridchase/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	username := flag.String("username", "", "override client.username")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *username != "" {
		cfg.Client.Username = *username
	}

	logger, err := observability.NewLogger(cfg.Logging, "gameclient")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("client error", zap.Error(err))
	}
}

func dial(ctx context.Context, cfg config.Config) (network.Socket, error) {
	opts := network.SocketOptions{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxFrameSize: cfg.Server.MaxFrameSize,
	}
	if cfg.Client.Transport == config.TransportWebSocket {
		return network.DialWebSocket(ctx, cfg.Client.WebSocketURL, opts)
	}
	return network.DialTCP(ctx, cfg.Client.ServerAddr, opts)
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	maps := world.NewLoader(cfg.Game.MapsDir)
	client, err := session.NewClient(session.ClientConfig{
		Username:   cfg.Client.Username,
		Maps:       maps,
		OutboxSize: cfg.Server.OutboxSize,
	}, logger.Named("client"))
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	sock, err := dial(dialCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	if err := client.Connect(sock); err != nil {
		_ = sock.Close()
		return err
	}
	logger.Info("connected",
		zap.String("transport", cfg.Client.Transport),
		zap.String("remote", sock.RemoteAddr()),
		zap.String("username", cfg.Client.Username),
	)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopRest := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopRest()
		return client.Run(runCtx)
	})
	g.Go(func() error {
		watch(runCtx, client.Notifications(), logger)
		return nil
	})
	g.Go(func() error {
		return walk(runCtx, client, maps, cfg.Client.MoveInterval, logger)
	})
	return g.Wait()
}

func watch(ctx context.Context, ch <-chan session.Notification, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ch:
			switch n := n.(type) {
			case session.LobbyChanged:
				logger.Info("lobby", zap.Int("players", len(n.Players)), zap.Strings("rules", n.Rules))
			case session.GameStarting:
				logger.Info("game starting", zap.String("map", n.Settings.Map), zap.Int("ghosts", n.Settings.GhostCount))
			case session.LocalPlayerDied:
				logger.Info("caught")
			case session.GameEnded:
				logger.Info("game ended",
					zap.Stringer("outcome", n.Result.Outcome),
					zap.Int("winner", n.Result.WinnerID),
					zap.Bool("has_winner", n.Result.HasWinner),
				)
			case session.ProtocolError:
				logger.Warn("protocol error", zap.String("packet", n.Packet), zap.Bool("fatal", n.Fatal), zap.Error(n.Err))
			case session.Disconnected:
				logger.Info("disconnected", zap.NamedError("cause", n.Cause))
			}
		}
	}
}

// walk steps the local player once per interval while a game is running.
//
// Postcondition: Returns nil when ctx ends or the session closes.
func walk(ctx context.Context, client *session.Client, maps session.MapLoader, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w := newWalker(rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))
	var grid *world.Map
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		snap, err := client.Snapshot(ctx)
		if err != nil {
			if errors.Is(err, session.ErrSessionClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if snap.State != session.ClientInGame {
			grid = nil
			continue
		}
		local, ok := snap.Local()
		if !ok {
			continue
		}
		if grid == nil || grid.Name() != snap.Settings.Map {
			if grid, err = maps.Load(snap.Settings.Map); err != nil {
				return err
			}
		}

		d, to, ok := w.next(grid, local.Pos)
		if !ok {
			continue
		}
		if done, err := moveDone(client.MoveLocalPlayer(ctx, to, d.Angle()), to, logger); done {
			return err
		}
	}
}

// moveDone reports whether a move outcome ends the walk, and with what error.
// A lost connection ends it cleanly; the session reports the cause itself.
func moveDone(err error, to world.Position, logger *zap.Logger) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, session.ErrNoGame), errors.Is(err, engine.ErrIllegalMove):
		logger.Debug("move skipped", zap.Stringer("to", to), zap.Error(err))
		return false, nil
	case errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, network.ErrClosed),
		errors.Is(err, network.ErrUnknownConnection):
		return true, nil
	default:
		return true, err
	}
}
