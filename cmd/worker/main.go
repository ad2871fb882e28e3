package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"presence/internal/config"
	"presence/internal/presence"
	"presence/internal/queue"
	"presence/internal/report"
	"presence/internal/store"
)

// Worker consumes presence events and writes a CSV export of every room
// when it closes.
func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend != "redis" || cfg.StoreBackend == "memory" {
		logger.Error("worker needs QUEUE_BACKEND=redis and a shared STORE_BACKEND", "queue", cfg.QueueBackend, "store", cfg.StoreBackend)
		os.Exit(1)
	}

	db, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := store.OpenRedis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var q queue.Queue = queue.NewRedisQueue(rdb.Client, cfg.QueueKey, logger)
	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Error("queue consume init failed", "error", err)
		os.Exit(1)
	}

	logger.Info("worker started, waiting for events", "queue", cfg.QueueKey, "export_dir", cfg.ExportDir)
	for msg := range messages {
		evt, err := presence.DecodeEvent(msg)
		if err != nil {
			logger.Warn("undecodable event", "type", msg.Type, "error", err)
			continue
		}
		switch evt.Type {
		case presence.EventRoomClosed:
			path, n, err := report.ExportRoom(ctx, db, cfg.ExportDir, evt.RoomCode)
			if err != nil {
				logger.Error("room export failed", "room", evt.RoomCode, "error", err)
				continue
			}
			logger.Info("room exported", "room", evt.RoomCode, "records", n, "path", path)
		case presence.EventReleased:
			attrs := []any{"participant", evt.ParticipantID, "room", evt.RoomCode}
			if evt.Record != nil {
				attrs = append(attrs, "minutes", evt.Record.ActiveMinutes, "reason", evt.Record.Reason)
			}
			logger.Info("participant released", attrs...)
		default:
			logger.Info("event", "type", evt.Type, "participant", evt.ParticipantID, "room", evt.RoomCode)
		}
	}

	logger.Info("worker stopped")
}
