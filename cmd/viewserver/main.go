package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/config"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/server"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/viewmodel"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "an optional yaml config file")
	addrVar := flag.String("addr", "", "the address to listen on, overrides the config")
	dbVar := flag.String("db", "", "the sqlite database to back up to, overrides the config")
	levelVar := flag.String("log-level", "info", "the log level")
	originsVar := flag.String("allowed-origin", "", "comma separated origins allowed to call the api from a browser")
	dumpVar := flag.Bool("dump", false, "dump and render every live viewmodel on exit")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*levelVar)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.LoadServer(*configVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Listen = *addrVar
	}
	if *dbVar != "" {
		cfg.DBPath = *dbVar
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("Opening database", "path", cfg.DBPath)
	snapshots, err := viewmodel.OpenSnapshotStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	registry := viewmodel.NewRegistry()
	if err := registry.Register(exampleView()); err != nil {
		return err
	}

	var opts []server.Option
	if *originsVar != "" {
		origins := strings.Split(*originsVar, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		opts = append(opts, server.WithAllowedOrigins(origins...))
	}

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		viewmodel.Maintain(ctx, registry, snapshots, cfg.BackupInterval, cfg.IdleTTL)
	}()

	httpServer := &http.Server{Addr: cfg.Listen, Handler: server.New(registry, opts...).Handler()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	wg.Wait()

	if *dumpVar {
		registry.Range(func(vm *viewmodel.Viewmodel) bool {
			dump(vm)
			return true
		})
	}
	return nil
}

// dump writes the document of vm to the temp directory and renders the
// history of each of its widgets.
func dump(vm *viewmodel.Viewmodel) {
	tf := filepath.Join(os.TempDir(), vm.ID+".automerge")
	if err := os.WriteFile(tf, vm.Save(), 0o644); err != nil {
		slog.Error("failed to dump", "viewmodel", vm.ID, "err", err)
		return
	}
	slog.Info("dumped", "viewmodel", vm.ID, "path", tf)

	doc, err := vm.Fork()
	if err != nil {
		slog.Error("failed to fork", "viewmodel", vm.ID, "err", err)
		return
	}
	for _, wid := range vm.WidgetIDs() {
		if svgPath, err := viz.RenderToTemp(doc, wid); err != nil {
			slog.Error("failed to render", "viewmodel", vm.ID, "widget", wid, "err", err)
		} else {
			slog.Info("rendered", "viewmodel", vm.ID, "widget", wid, "path", "file://"+svgPath)
		}
	}
}
