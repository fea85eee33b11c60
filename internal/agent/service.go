package agent

import (
	"context"
	"log/slog"
)

// SessionAdopter records a backend-issued session id as current.
type SessionAdopter interface {
	Adopt(ctx context.Context, id string) error
}

// Service wraps a Backend with session adoption and conversation logging.
type Service struct {
	Backend
	log    ConversationLogger
	logger *slog.Logger
}

// NewService creates a new agent service. conversationLogger may be nil.
func NewService(backend Backend, conversationLogger ConversationLogger, logger *slog.Logger) *Service {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Backend: backend,
		log:     conversationLogger,
		logger:  logger,
	}
}

// InvokeAs runs req on behalf of deviceID. When the backend answers with a
// session id other than the one sent, it is adopted as current through
// sessions.
func (s *Service) InvokeAs(ctx context.Context, deviceID string, sessions SessionAdopter, req Request) (*Response, error) {
	s.log.Log(ConversationLogEvent{
		DeviceID:   deviceID,
		SessionID:  req.SessionID,
		Channel:    "agent_http",
		Direction:  "outbound",
		EventType:  string(req.Task) + "_request",
		ContentRaw: req.Input,
		Meta:       map[string]any{"history_len": len(req.History)},
	})

	resp, err := s.Invoke(ctx, req)
	if err != nil {
		s.log.Log(ConversationLogEvent{
			DeviceID:  deviceID,
			SessionID: req.SessionID,
			Channel:   "agent_http",
			Direction: "inbound",
			EventType: string(req.Task) + "_error",
			Meta:      map[string]any{"error": err.Error()},
		})
		return nil, err
	}

	sessionID := req.SessionID
	if resp.SessionID != "" && resp.SessionID != req.SessionID && sessions != nil {
		if adoptErr := sessions.Adopt(ctx, resp.SessionID); adoptErr != nil {
			s.logger.Warn("failed to adopt backend session", "device_id", deviceID, "session_id", resp.SessionID, "error", adoptErr)
		} else {
			s.logger.Info("adopted backend session", "device_id", deviceID, "session_id", resp.SessionID)
		}
		sessionID = resp.SessionID
	}

	s.log.Log(ConversationLogEvent{
		DeviceID:   deviceID,
		SessionID:  sessionID,
		Channel:    "agent_http",
		Direction:  "inbound",
		EventType:  string(req.Task) + "_response",
		ContentRaw: responseText(resp),
	})
	return resp, nil
}

func responseText(resp *Response) string {
	switch resp.Task {
	case TaskTutor:
		return resp.Answer()
	case TaskAnalyze:
		return resp.Summary()
	case TaskQuiz:
		return resp.Quiz().Raw
	default:
		return string(resp.Output)
	}
}

// Close releases the backend and flushes the conversation log.
func (s *Service) Close() {
	if s.Backend != nil {
		s.Backend.Close()
	}
	if err := s.log.Close(); err != nil {
		s.logger.Warn("failed to close conversation logger", "error", err)
	}
}
