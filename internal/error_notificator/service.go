package error_notificator

import (
	"context"

	"github.com/Vovarama1992/go-utils/logger"
	"go.uber.org/zap"
)

// Service forwards failure reports and never fails the caller: a report that
// cannot be delivered is logged and dropped.
type Service struct {
	infra  Notificator
	logger *logger.ZapLogger
}

func NewService(infra Notificator, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{infra: infra, logger: logger.NewZapLogger(log)}
}

func (s *Service) Notify(ctx context.Context, jobID string, err error, details string) error {
	if s.infra == nil {
		return nil
	}
	if sendErr := s.infra.Notify(ctx, jobID, err, details); sendErr != nil {
		s.logger.Log(logger.LogEntry{
			Level:   "warn",
			Message: "failure report for job " + jobID + " not delivered",
			Service: "error_notificator",
			Error:   sendErr,
		})
	}
	return nil
}
