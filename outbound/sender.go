package outbound

import (
	"context"
	"strings"

	"github.com/goliatone/go-smsintake/core"
)

// LogSender stands in for a real SMS gateway: it logs the outgoing text and
// always reports success.
type LogSender struct {
	Logger core.Logger
}

func NewLogSender(logger core.Logger) LogSender {
	return LogSender{Logger: logger}
}

func (s LogSender) Send(ctx context.Context, text string, recipients []string, cfg core.GatewayConfig) core.DeliveryResult {
	if len(recipients) == 0 {
		return core.DeliveryResult{OK: false, Description: "no recipients"}
	}
	core.NewObserver(s.Logger, nil).LogInfo(ctx, "sms.gateway send", map[string]any{
		"gateway_id": cfg.GatewayID,
		"sender_id":  cfg.SenderID,
		"recipients": strings.Join(recipients, ","),
		"text":       text,
	})
	return core.DeliveryResult{OK: true, Description: "logged"}
}

var _ core.Sender = LogSender{}
