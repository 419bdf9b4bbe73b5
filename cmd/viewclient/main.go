package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/config"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/session"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/transport"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/widget"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "an optional yaml config file")
	baseURLVar := flag.String("base-url", "", "the server origin, overrides $"+config.BaseURLEnv+" and the config")
	viewVar := flag.String("view", "example", "the view to load")
	widgetVar := flag.String("widget", "", "a widget to post actions on")
	actionVar := flag.String("action", "click", "the action type to post")
	repeatVar := flag.Int("repeat", 1, "how many actions to post")
	intervalVar := flag.Duration("interval", time.Second, "the delay between actions")
	followVar := flag.Bool("follow", false, "keep merging pushed updates until interrupted")
	flag.Parse()

	cfg, err := config.LoadClient(*configVar)
	if err != nil {
		return err
	}
	if *baseURLVar != "" {
		cfg.BaseURL = *baseURLVar
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	c, err := transport.New(cfg.BaseURL)
	if err != nil {
		return err
	}
	s := session.New(c)
	defer s.Close()
	s.OnStateChange(func(state session.LoaderState) {
		slog.Info("state changed", "state", state.String())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-exit:
			slog.Info("Signal caught", "sig", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var target *widget.Binding
	if *widgetVar != "" {
		// Bound before the load so the first data it sees is the server's.
		if target, err = widget.Bind(s.Context(), wire.Fields{widget.IDProp: *widgetVar}); err != nil {
			return err
		}
		defer target.Close()
		target.Subscribe(func(data wire.Fields) {
			slog.Info("widget updated", "widget", *widgetVar, "data", data)
		})
	}

	if err := s.Initialize(ctx, *viewVar); err != nil {
		return err
	}
	for id, data := range s.Snapshot() {
		slog.Info("widget", "viewmodel", s.ViewmodelID(), "widget", id, "data", data)
	}

	wg := new(sync.WaitGroup)
	if *followVar {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Follow(ctx); err != nil {
				slog.Error("failed to follow", "err", err)
			}
			slog.Info("stopped following")
		}()
	}

	if target != nil {
		if err := postRepeatedly(ctx, target, *actionVar, *repeatVar, *intervalVar); err != nil && !errors.Is(err, context.Canceled) {
			cancel()
			wg.Wait()
			return err
		}
	}

	if *followVar {
		<-ctx.Done()
	} else {
		cancel()
	}
	wg.Wait()
	return nil
}

func postRepeatedly(ctx context.Context, b *widget.Binding, actionType string, repeat int, interval time.Duration) error {
	for i := 0; i < repeat; i++ {
		if i > 0 {
			t := time.NewTimer(interval)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
		if err := b.PostAction(ctx, actionType, nil); err != nil {
			return fmt.Errorf("failed to post %s on %s: %w", actionType, b.WidgetID(), err)
		}
		slog.Info("posted", "widget", b.WidgetID(), "action", actionType, "n", i+1)
	}
	return nil
}
