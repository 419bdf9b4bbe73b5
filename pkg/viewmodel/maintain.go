package viewmodel

import (
	"context"
	"log/slog"
	"time"
)

// Backup saves every live viewmodel whose document changed since the last
// backup. Viewmodels that fail to save stay dirty for the next pass.
func Backup(ctx context.Context, r *Registry, s *SnapshotStore) {
	r.Range(func(vm *Viewmodel) bool {
		backupOne(ctx, vm, s)
		return true
	})
}

func backupOne(ctx context.Context, vm *Viewmodel, s *SnapshotStore) {
	if !vm.takeDirty() {
		return
	}
	if saved, err := s.Save(ctx, vm); err != nil {
		slog.Error("failed to backup viewmodel in database", "viewmodel", vm.ID, "err", err)
		vm.markDirty()
	} else if saved {
		slog.Info("backed up", "viewmodel", vm.ID, "view", vm.View)
	}
}

// Maintain backs viewmodels up every interval and evicts the ones idle for
// longer than ttl once they are saved. A zero ttl disables eviction. On
// return, after ctx ends, a final backup has been attempted.
func Maintain(ctx context.Context, r *Registry, s *SnapshotStore, interval, ttl time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			Backup(ctx, r, s)
			if ttl > 0 {
				for _, vm := range r.Evict(ttl) {
					backupOne(ctx, vm, s)
				}
			}
		case <-ctx.Done():
			slog.Info("stopping scheduled backup")
			Backup(context.Background(), r, s)
			return
		}
	}
}
