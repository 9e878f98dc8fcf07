package peg

import (
	"context"

	"github.com/looplab/fsm"
)

// Checkpoint lifecycle states and events: an fsm.FSM constructed fresh
// from the checkpoint's persisted IsActive flag, driven one event at a
// time, its Current() read back to update that flag. The FSM enforces
// that at most one checkpoint is active at a time.
const (
	checkpointStateIdle   = "idle"
	checkpointStateActive = "active"

	checkpointEventOpen     = "open"
	checkpointEventFinalize = "finalize"
)

func newCheckpointFSM(isActive bool) *fsm.FSM {
	initial := checkpointStateIdle
	if isActive {
		initial = checkpointStateActive
	}
	return fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: checkpointEventOpen, Src: []string{checkpointStateIdle}, Dst: checkpointStateActive},
			{Name: checkpointEventFinalize, Src: []string{checkpointStateActive}, Dst: checkpointStateIdle},
		},
		fsm.Callbacks{},
	)
}

// transitionCheckpoint drives the checkpoint lifecycle FSM with event
// and reports whether the resulting state is "active". Returns an
// error only if the event is invalid from the current state, which
// would indicate a state-machine invariant violation.
func transitionCheckpoint(ctx context.Context, isActive bool, event string) (bool, error) {
	f := newCheckpointFSM(isActive)
	if err := f.Event(ctx, event); err != nil {
		return isActive, err
	}
	return f.Current() == checkpointStateActive, nil
}
