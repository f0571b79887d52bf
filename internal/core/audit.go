package core

import (
	"context"

	"github.com/JonMunkholm/sheetquery/internal/history"
	"github.com/JonMunkholm/sheetquery/internal/logging"
)

// recordEvent appends a history event for a session. Failures are logged and
// never surface to the caller: a broken history store must not break queries.
func (s *Service) recordEvent(ctx context.Context, sessionID, owner string, action history.Action, detail map[string]any) {
	ip, ua := ClientFromContext(ctx)
	err := s.history.Record(ctx, history.Event{
		SessionID: sessionID,
		Action:    action,
		Owner:     owner,
		Detail:    detail,
		IPAddress: ip,
		UserAgent: ua,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("failed to record history event",
			"session_id", sessionID,
			"action", string(action),
			"error", err,
		)
	}
}

// History returns a session's recorded events, newest first.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]history.Event, error) {
	if _, err := s.registry.Get(sessionID); err != nil {
		return nil, err
	}
	return s.history.List(ctx, sessionID, limit)
}
