package transport

import (
	"context"
	"fmt"

	"github.com/vshard/vectorindex/hooks"
)

// pushOnSaveListener is a hooks.HookListener that pushes a freshly published
// snapshot out to Raft followers as soon as indexmgr.SaveVectorIndex fires
// PostSaveSnapshot. Registered by RegisterSaveListener; runs asynchronously
// since a slow or unreachable follower must never hold up the save path.
type pushOnSaveListener struct {
	t *Transport
}

// RegisterSaveListener wires t to push every snapshot indexmgr publishes out
// to Raft followers, without indexmgr needing to import transport.
func RegisterSaveListener(hookMgr hooks.HookManager, t *Transport) {
	hookMgr.Register(hooks.EventPostSaveSnapshot, &pushOnSaveListener{t: t})
}

func (l *pushOnSaveListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	p, ok := event.Payload().(hooks.PostSaveSnapshotPayload)
	if !ok || p.Error != nil || p.SkippedNoop || p.SnapshotDir == "" {
		return nil
	}
	snap, ok := l.t.store.Last(p.VectorIndexID)
	if !ok {
		return nil
	}
	if err := l.t.PushToFollowers(ctx, p.VectorIndexID, snap.LogID, snap.Dir); err != nil {
		return fmt.Errorf("push snapshot to followers for index %d: %w", p.VectorIndexID, err)
	}
	return nil
}

func (l *pushOnSaveListener) Priority() int { return 0 }
func (l *pushOnSaveListener) IsAsync() bool { return true }
