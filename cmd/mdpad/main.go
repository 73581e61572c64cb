package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mdpad/mdpad/pkg/api"
	"github.com/mdpad/mdpad/pkg/lockstore"
	"github.com/mdpad/mdpad/pkg/metastore"
	"github.com/mdpad/mdpad/pkg/presence"
	"github.com/mdpad/mdpad/pkg/session"
	"github.com/mdpad/mdpad/pkg/updatelog"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", envOr("MDPAD_ADDR", "localhost:1234"), "the address to listen on")
	dataDirVar := flag.String("data-dir", envOr("MDPAD_DATA_DIR", "./data"), "directory holding the document logs, locks and metadata")
	engineVar := flag.String("engine", envOr("MDPAD_ENGINE", "leveldb"), "update log engine: leveldb or sqlite")
	defaultDocVar := flag.String("default-doc", envOr("MDPAD_DEFAULT_DOC", "default-doc"), "document bound when a connection path is empty")
	flag.Parse()

	if err := os.MkdirAll(*dataDirVar, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir %q: %w", *dataDirVar, err)
	}

	slog.Info("opening update log", "engine", *engineVar, "dir", *dataDirVar)
	var log updatelog.Store
	var err error
	switch *engineVar {
	case "leveldb":
		log, err = updatelog.OpenLevelDB(filepath.Join(*dataDirVar, "updates.leveldb"))
	case "sqlite":
		log, err = updatelog.OpenSQLite(filepath.Join(*dataDirVar, "updates.sqlite3"))
	default:
		return fmt.Errorf("unknown engine %q", *engineVar)
	}
	if err != nil {
		return err
	}
	defer log.Close()

	meta, err := metastore.Open(filepath.Join(*dataDirVar, "documents.json"))
	if err != nil {
		return err
	}
	locks, err := lockstore.Open(filepath.Join(*dataDirVar, "locks.json"), os.Getenv("MDPAD_MASTER_PASSWORD"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := session.NewManager(log, meta, locks, presence.New(), *defaultDocVar)
	httpServer := &http.Server{
		Addr:    *addrVar,
		Handler: api.NewServer(manager).Router(),
		// request contexts derive from ctx, so cancelling it winds down the
		// long-lived sync sessions Shutdown cannot reach
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
	}

	wg.Wait()
	return nil
}

func envOr(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
