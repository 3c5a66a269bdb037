package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventType defines the type of a hook event.
type EventType string

// --- Event Type Constants ---
const (
	// Index lifecycle events
	EventPreLoadOrBuild  EventType = "PreLoadOrBuild"
	EventPostLoadOrBuild EventType = "PostLoadOrBuild"
	EventPreBuild        EventType = "PreBuild"
	EventPostBuild       EventType = "PostBuild"
	EventPreRebuild      EventType = "PreRebuild"
	EventPostRebuild     EventType = "PostRebuild"
	EventPreDeleteIndex  EventType = "PreDeleteIndex"
	EventPostDeleteIndex EventType = "PostDeleteIndex"

	// WAL replay events
	EventPreReplayWal  EventType = "PreReplayWal"
	EventPostReplayWal EventType = "PostReplayWal"

	// Snapshot lifecycle events
	EventPreSaveSnapshot     EventType = "PreSaveSnapshot"
	EventPostSaveSnapshot    EventType = "PostSaveSnapshot"
	EventPreInstallSnapshot  EventType = "PreInstallSnapshot"
	EventPostInstallSnapshot EventType = "PostInstallSnapshot"
	EventPreLoadSnapshot     EventType = "PreLoadSnapshot"
	EventPostLoadSnapshot    EventType = "PostLoadSnapshot"

	// Scrubber events
	EventPreScrub  EventType = "PreScrub"
	EventPostScrub EventType = "PostScrub"

	// Search events
	EventPreSearch  EventType = "PreSearch"
	EventPostSearch EventType = "PostSearch"
)

// --- HookManager Interface and Implementation ---

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// It handles synchronous vs. asynchronous execution based on the event type and listener preference.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete. Useful for graceful shutdown.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	// Type returns the type of the event.
	Type() EventType
	// Payload returns the data associated with the event.
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// LoadOrBuildPayload carries the region an index lifecycle operation targets.
// A listener on the Pre event can veto the operation by returning an error
// from OnEvent.
type LoadOrBuildPayload struct {
	RegionID uint64
}

func NewPreLoadOrBuildEvent(p LoadOrBuildPayload) HookEvent {
	return &BaseEvent{eventType: EventPreLoadOrBuild, payload: p}
}

// PostLoadOrBuildPayload reports the outcome of a load-or-build attempt.
type PostLoadOrBuildPayload struct {
	RegionID      uint64
	BuiltFromScan bool
	ApplyLogIndex uint64
	Error         error
}

func NewPostLoadOrBuildEvent(p PostLoadOrBuildPayload) HookEvent {
	return &BaseEvent{eventType: EventPostLoadOrBuild, payload: p}
}

// BuildPayload carries the region a full key-value scan build targets.
type BuildPayload struct {
	RegionID uint64
}

func NewPreBuildEvent(p BuildPayload) HookEvent {
	return &BaseEvent{eventType: EventPreBuild, payload: p}
}

// PostBuildPayload reports the outcome of BuildVectorIndex.
type PostBuildPayload struct {
	RegionID      uint64
	RecordCount   int
	ApplyLogIndex uint64
	Error         error
}

func NewPostBuildEvent(p PostBuildPayload) HookEvent {
	return &BaseEvent{eventType: EventPostBuild, payload: p}
}

// RebuildPayload carries the region and intent of a rebuild.
type RebuildPayload struct {
	RegionID uint64
	NeedSave bool
}

func NewPreRebuildEvent(p RebuildPayload) HookEvent {
	return &BaseEvent{eventType: EventPreRebuild, payload: p}
}

// PostRebuildPayload reports the outcome of Rebuild.
type PostRebuildPayload struct {
	RegionID      uint64
	NewVersion    uint64
	ApplyLogIndex uint64
	Duration      time.Duration
	Error         error
}

func NewPostRebuildEvent(p PostRebuildPayload) HookEvent {
	return &BaseEvent{eventType: EventPostRebuild, payload: p}
}

// DeleteIndexPayload carries the vector index id being deleted.
type DeleteIndexPayload struct {
	VectorIndexID uint64
}

func NewPreDeleteIndexEvent(p DeleteIndexPayload) HookEvent {
	return &BaseEvent{eventType: EventPreDeleteIndex, payload: p}
}

func NewPostDeleteIndexEvent(p DeleteIndexPayload) HookEvent {
	return &BaseEvent{eventType: EventPostDeleteIndex, payload: p}
}

// ReplayWalPayload describes the log-id window a replay covers.
type ReplayWalPayload struct {
	VectorIndexID uint64
	StartLogID    uint64
	EndLogID      uint64
}

func NewPreReplayWalEvent(p ReplayWalPayload) HookEvent {
	return &BaseEvent{eventType: EventPreReplayWal, payload: p}
}

// PostReplayWalPayload reports how many entries were applied and where replay stopped.
type PostReplayWalPayload struct {
	VectorIndexID  uint64
	AppliedCount   int
	LastAppliedIdx uint64
	Error          error
}

func NewPostReplayWalEvent(p PostReplayWalPayload) HookEvent {
	return &BaseEvent{eventType: EventPostReplayWal, payload: p}
}

// SaveSnapshotPayload carries the target of a Save operation.
type SaveSnapshotPayload struct {
	VectorIndexID uint64
	ApplyLogIndex uint64
}

func NewPreSaveSnapshotEvent(p SaveSnapshotPayload) HookEvent {
	return &BaseEvent{eventType: EventPreSaveSnapshot, payload: p}
}

// PostSaveSnapshotPayload reports the outcome of a Save operation.
type PostSaveSnapshotPayload struct {
	VectorIndexID uint64
	SnapshotDir   string
	SkippedNoop   bool
	Error         error
}

func NewPostSaveSnapshotEvent(p PostSaveSnapshotPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSaveSnapshot, payload: p}
}

// InstallSnapshotPayload carries information about an inbound install.
type InstallSnapshotPayload struct {
	VectorIndexID    uint64
	SnapshotLogIndex uint64
	SourceURI        string
}

func NewPreInstallSnapshotEvent(p InstallSnapshotPayload) HookEvent {
	return &BaseEvent{eventType: EventPreInstallSnapshot, payload: p}
}

func NewPostInstallSnapshotEvent(p InstallSnapshotPayload) HookEvent {
	return &BaseEvent{eventType: EventPostInstallSnapshot, payload: p}
}

// LoadSnapshotPayload carries the snapshot a Load operation is reading.
type LoadSnapshotPayload struct {
	VectorIndexID    uint64
	SnapshotLogIndex uint64
}

func NewPreLoadSnapshotEvent(p LoadSnapshotPayload) HookEvent {
	return &BaseEvent{eventType: EventPreLoadSnapshot, payload: p}
}

func NewPostLoadSnapshotEvent(p LoadSnapshotPayload) HookEvent {
	return &BaseEvent{eventType: EventPostLoadSnapshot, payload: p}
}

// ScrubPayload carries no data today; a placeholder in case per-index scrub
// decisions need to be observed later.
type ScrubPayload struct{}

func NewPreScrubEvent() HookEvent {
	return &BaseEvent{eventType: EventPreScrub, payload: ScrubPayload{}}
}

// PostScrubPayload reports the sweep's outcome.
type PostScrubPayload struct {
	RebuiltCount int
	SavedCount   int
	Duration     time.Duration
}

func NewPostScrubEvent(p PostScrubPayload) HookEvent {
	return &BaseEvent{eventType: EventPostScrub, payload: p}
}

// SearchPayload carries the search request; TopN is a pointer on the Pre
// event so a listener can rewrite it (e.g. clamp it) before execution.
type SearchPayload struct {
	VectorIndexID uint64
	TopN          *int
}

func NewPreSearchEvent(p SearchPayload) HookEvent {
	return &BaseEvent{eventType: EventPreSearch, payload: p}
}

// PostSearchPayload reports how a search resolved.
type PostSearchPayload struct {
	VectorIndexID uint64
	ResultCount   int
	Duration      time.Duration
	Error         error
}

func NewPostSearchEvent(p PostSearchPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSearch, payload: p}
}

// --- HookListener Interface ---

// HookListener defines the interface for components that want to listen to events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a "Pre" hook (e.g., PreRebuild) can cancel the operation.
	// Errors from "Post" hooks are typically logged without affecting the main operation.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync indicates if the listener should be called asynchronously for Post-events.
	IsAsync() bool
}

// listenerWithPriority wraps a listener with its priority for the
// priority-sorted listener slice.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// The map stores slices of listeners, kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup // For tracking async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		// Default to a discard logger to prevent nil panics if no logger is provided.
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	// Get the existing slice of listeners for this event type.
	l := m.listeners[eventType]

	// Find the correct insertion index to maintain sorted order.
	// sort.Search finds the first index i where l[i].priority >= item.priority.
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority >= item.priority
	})

	// Optimized insertion to reduce re-allocations.
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		// Pre-hooks MUST be synchronous to allow for cancellation.
		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("listener for pre-hook requested async execution, but pre-hooks are always synchronous", "event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			m.wg.Add(1)
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				if err := currentItem.listener.OnEvent(ctx, event); err != nil {
					m.logger.Error("error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
