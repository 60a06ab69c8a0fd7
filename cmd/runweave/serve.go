package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/runweave/runweave/internal/engine"
	"github.com/runweave/runweave/internal/events"
	"github.com/runweave/runweave/internal/httpapi"
	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/run"
	"github.com/runweave/runweave/internal/runstore/inmem"
	"github.com/runweave/runweave/internal/runstore/sqlite"
	"github.com/runweave/runweave/internal/service"
	"github.com/runweave/runweave/internal/tool"
)

type serveFlags struct {
	addr string
	db   string
}

func newServeCmd(root *rootFlags, log *logger.Logger, registry *tool.Registry) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the run lifecycle HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, flags, root, log, registry)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&flags.db, "db", "", "SQLite database path; in-memory storage when empty")

	return cmd
}

func serve(cmd *cobra.Command, flags *serveFlags, root *rootFlags, log *logger.Logger, registry *tool.Registry) error {
	log = commandLogger(root, log)

	var (
		store    run.Store
		stepLogs run.StepLogStore
	)
	if flags.db != "" {
		db, err := sqlite.Open(flags.db)
		if err != nil {
			return err
		}
		defer db.Close()
		store, stepLogs = db, db
	} else {
		store, stepLogs = inmem.New(), inmem.NewLogStore()
	}

	svc, err := service.New(service.Config{
		Store:     store,
		StepLogs:  stepLogs,
		Registry:  registry,
		Logger:    log,
		Engine:    engine.Options{},
		Publisher: events.NewLoggingPublisher(log),
	})
	if err != nil {
		return err
	}

	router := httpapi.New(svc, log).Router()

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(map[string]any{"addr": flags.addr}).Info("http api listening")
		errCh <- router.Start(flags.addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-stop:
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return router.Shutdown(shutdownCtx)
}
