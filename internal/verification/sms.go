package verification

import (
	"context"

	"go.uber.org/zap"
)

// SMSSender delivers a code to a phone number.
type SMSSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSMSSender stands in until an SMS provider is integrated; it only logs.
type LogSMSSender struct {
	logger *zap.SugaredLogger
}

func NewLogSMSSender(logger *zap.SugaredLogger) *LogSMSSender {
	return &LogSMSSender{logger: logger}
}

func (s *LogSMSSender) SendCode(ctx context.Context, phone, code string) error {
	s.logger.Infow("sms not sent (no provider)", "phone", phone, "code", code)
	return nil
}
