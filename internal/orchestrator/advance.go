package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/sagecodex/internal/stage"
	"github.com/user/sagecodex/internal/types"
)

// AdvanceStage moves an active, non-terminal session to its successor
// stage and returns the updated session with its adventure-state
// snapshot. Rejections carry the descriptive reason, and nothing is
// mutated on a rejected advance.
func (o *Orchestrator) AdvanceStage(ctx context.Context, sessionID types.SessionID) (*types.Session, *types.AdventureState, error) {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !session.Active {
		return nil, nil, stage.ErrInactiveSession
	}
	next, ok := session.Stage.Next()
	if !ok {
		return nil, nil, stage.ErrFinalStage
	}

	updated, err := o.sessions.SetStage(ctx, sessionID, next)
	if err != nil {
		return nil, nil, fmt.Errorf("persist stage advance: %w", err)
	}

	state, err := o.states.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return nil, nil, err
		}
		state = types.NewAdventureState(sessionID)
	}
	return updated, state, nil
}
