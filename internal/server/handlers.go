package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/sagecodex/internal/orchestrator"
	"github.com/user/sagecodex/internal/prompts"
	"github.com/user/sagecodex/internal/stage"
	"github.com/user/sagecodex/internal/types"
	"github.com/user/sagecodex/pkg/llm"
	"github.com/user/sagecodex/pkg/sse"
)

// writeAPIError reports a classified failure as a JSON error response.
// Only legal before the SSE stream has started.
func writeAPIError(c *gin.Context, err error) {
	apiErr := llm.Classify(err)
	c.JSON(apiErr.HTTPStatus, gin.H{"error": gin.H{
		"code":      string(apiErr.Code),
		"message":   apiErr.Message,
		"retryable": apiErr.Retryable,
	}})
}

// ownedSession loads the session and checks it belongs to the caller.
func (s *Server) ownedSession(c *gin.Context) (*types.Session, bool) {
	id := types.SessionID(c.Param("id"))
	session, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			abortError(c, http.StatusNotFound, string(llm.CodeValidation), "session not found")
		} else {
			writeAPIError(c, err)
		}
		return nil, false
	}
	if session.UserID != authedUser(c) {
		// Do not leak other users' session ids.
		abortError(c, http.StatusNotFound, string(llm.CodeValidation), "session not found")
		return nil, false
	}
	return session, true
}

type sessionResponse struct {
	Session *types.Session        `json:"session"`
	State   *types.AdventureState `json:"state,omitempty"`
}

func (s *Server) stateOrEmpty(c *gin.Context, id types.SessionID) *types.AdventureState {
	state, err := s.states.Get(c.Request.Context(), id)
	if err != nil {
		return types.NewAdventureState(id)
	}
	return state
}

func (s *Server) handleCreateSession(c *gin.Context) {
	userID := authedUser(c)
	session, err := s.sessions.Create(c.Request.Context(), userID)
	if err != nil {
		// 409 is reserved for the one-active-session rule; anything else
		// is a store failure.
		if errors.Is(err, types.ErrActiveSessionExists) {
			abortError(c, http.StatusConflict, string(llm.CodeValidation), err.Error())
			return
		}
		writeAPIError(c, err)
		return
	}
	state := types.NewAdventureState(session.ID)
	if err := s.states.Put(c.Request.Context(), state); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse{Session: session, State: state})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.sessions.ListForUser(c.Request.Context(), authedUser(c))
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionResponse{
		Session: session,
		State:   s.stateOrEmpty(c, session.ID),
	})
}

func (s *Server) handleDeactivateSession(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}
	if err := s.sessions.Deactivate(c.Request.Context(), session.ID); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

func (s *Server) handleAdvanceStage(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}
	updated, state, err := s.orch.AdvanceStage(c.Request.Context(), session.ID)
	if err != nil {
		s.metrics.StageAdvance.WithLabelValues("rejected").Inc()
		if errors.Is(err, stage.ErrFinalStage) || errors.Is(err, stage.ErrInactiveSession) {
			abortError(c, http.StatusConflict, string(llm.CodeValidation), err.Error())
			return
		}
		writeAPIError(c, err)
		return
	}
	s.metrics.StageAdvance.WithLabelValues("advanced").Inc()
	c.JSON(http.StatusOK, sessionResponse{Session: updated, State: state})
}

type messageRequest struct {
	Message string `json:"message"`
}

// handleMessage runs one conversation turn over SSE. Validation failures
// are JSON errors; once the stream is open, every failure is downgraded
// to a terminal error event because the headers are already committed.
func (s *Server) handleMessage(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, llm.Validation("invalid request body"))
		return
	}

	ctx := c.Request.Context()
	turn := orchestrator.UserTurn(req.Message)
	if req.Message == "" {
		// An empty message on a fresh session elicits the greeting; the
		// trigger is synthetic and never persisted.
		count, err := s.messages.Count(ctx, session.ID)
		if err != nil {
			writeAPIError(c, err)
			return
		}
		if count > 0 {
			writeAPIError(c, llm.Validation("message is required"))
			return
		}
		turn = orchestrator.SyntheticTurn(prompts.GreetingTrigger)
	}

	prepared, err := s.orch.Prepare(ctx, session.ID, turn)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	// Headers commit the stream; from here on errors are SSE events.
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	enc := sse.NewEncoder(c.Writer, c.Writer)
	emit := s.metrics.countingEmit(func(ev sse.Event) error {
		return enc.Encode(ev)
	})

	if _, err := s.orch.Run(ctx, prepared, emit); err != nil {
		s.metrics.Turns.WithLabelValues("error").Inc()
		apiErr := llm.Classify(err)
		s.log.Error().
			Str("session_id", string(session.ID)).
			Str("code", string(apiErr.Code)).
			Err(err).
			Msg("turn failed mid-stream")
		// Best effort: the connection may already be gone.
		_ = emit(sse.Event{Type: sse.TypeError, Data: sse.Error{
			Code:    string(apiErr.Code),
			Message: apiErr.Message,
		}})
		return
	}

	s.metrics.Turns.WithLabelValues("ok").Inc()
	_ = emit(sse.Event{Type: sse.TypeUIReady, Data: struct{}{}})
}
