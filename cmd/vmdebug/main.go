package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

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
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	dbVar := flag.String("db", "viewmodels.sqlite3", "the sqlite database the server backs up to")
	idVar := flag.String("viewmodel", "", "the viewmodel to inspect, the latest one when empty")
	widgetVar := flag.String("widget", "", "the widget whose history is printed, every widget when empty")
	svgVar := flag.String("svg", "", "also render the history of -widget to this svg file")
	flag.Parse()

	ctx := context.Background()
	snapshots, err := viewmodel.OpenSnapshotStore(ctx, *dbVar)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	id := *idVar
	if id == "" {
		ids, err := snapshots.IDs(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("no viewmodels in %s", *dbVar)
		}
		id = ids[0]
	}
	snap, err := snapshots.Load(ctx, id)
	if err != nil {
		return err
	}
	doc := snap.Doc
	slog.Info("loaded viewmodel", "viewmodel", snap.ID, "view", snap.View, "updated", snap.UpdatedAt, "widgets", snap.Widgets)
	slog.Info("loaded doc", "contents", doc.RootMap().GoString())
	slog.Info("loaded heads", "heads", doc.Heads())

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "message", change.Message(), "dep", change.Dependencies())
	}

	widgets := snap.Widgets
	if *widgetVar != "" {
		widgets = []string{*widgetVar}
	}
	for _, wid := range widgets {
		if err := viz.WriteDot(os.Stdout, doc, wid); err != nil {
			return fmt.Errorf("failed to write history of %s: %w", wid, err)
		}
	}

	if *svgVar != "" {
		if *widgetVar == "" {
			return fmt.Errorf("-svg needs -widget")
		}
		if err := viz.RenderWidgetHistory(doc, *widgetVar, *svgVar); err != nil {
			return err
		}
		slog.Info("rendered", "widget", *widgetVar, "path", "file://"+*svgVar)
	}
	return nil
}
