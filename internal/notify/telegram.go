// Package notify sends Telegram alerts and listens for operator commands.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Handlers are the hooks the command listener calls into. Nil handlers
// disable the corresponding command.
type Handlers struct {
	// OnSessionToken receives the token from "/session TOKEN".
	OnSessionToken func(token string)
	// OnStop is called for "/stop".
	OnStop func()
	// Status returns the text for "/status".
	Status func() string
}

// Notifier sends best-effort alerts to one authorized chat. A disabled
// notifier swallows every call, so callers never branch on configuration.
type Notifier struct {
	api      *tgbotapi.BotAPI
	chatID   int64
	handlers Handlers
	log      *logrus.Entry
}

// NewNotifier connects the Telegram bot. When enabled is false or the token
// is empty, a disabled notifier is returned with no error.
func NewNotifier(enabled bool, token string, chatID int64, handlers Handlers) (*Notifier, error) {
	log := logrus.WithField("component", "telegram")
	if !enabled || token == "" {
		return &Notifier{log: log, handlers: handlers}, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}
	log.WithField("username", api.Self.UserName).Info("Telegram bot connected")

	return &Notifier{
		api:      api,
		chatID:   chatID,
		handlers: handlers,
		log:      log,
	}, nil
}

// Enabled reports whether alerts actually go out.
func (n *Notifier) Enabled() bool {
	return n.api != nil
}

// Send delivers one Markdown message, retrying once without parse mode when
// Telegram rejects the formatting. Failures are logged, never propagated.
func (n *Notifier) Send(text string) bool {
	if n.api == nil {
		return false
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := n.api.Send(msg); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "parse") {
			msg.ParseMode = ""
			if _, retryErr := n.api.Send(msg); retryErr == nil {
				return true
			}
		}
		n.log.Warnf("Telegram send failed: %v", err)
		return false
	}
	return true
}

// SendPnLUpdate formats and sends a P&L snapshot for one index.
func (n *Notifier) SendPnLUpdate(index string, pnl float64, status string, positions []string) bool {
	return n.Send(FormatPnLUpdate(index, pnl, status, positions))
}

// SendError sends an error alert.
func (n *Notifier) SendError(errMsg string) bool {
	return n.Send(fmt.Sprintf("🚨 *ERROR*\n```\n%s\n```", errMsg))
}

// FormatPnLUpdate renders the P&L alert body.
func FormatPnLUpdate(index string, pnl float64, status string, positions []string) string {
	emoji := "🟢"
	if pnl < 0 {
		emoji = "🔴"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s P&L Update*\nP&L: ₹%.2f\nStatus: %s", emoji, index, pnl, status)
	if len(positions) > 0 {
		sb.WriteString("\n\n*Positions:*\n")
		for _, pos := range positions {
			fmt.Fprintf(&sb, "`%s`\n", pos)
		}
	}
	return sb.String()
}

// FormatEntry renders the position-opened alert body.
func FormatEntry(index string, legs []string, netPremium, total float64, expiry string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📈 *%s Iron Condor Opened*\nExpiry: %s\n\n", index, expiry)
	for _, leg := range legs {
		fmt.Fprintf(&sb, "`%s`\n", leg)
	}
	fmt.Fprintf(&sb, "\nNet premium: ₹%.2f\nTotal collected: ₹%.2f", netPremium, total)
	return sb.String()
}

// FormatExit renders the position-closed alert body.
func FormatExit(index string, pnl float64, reason string) string {
	emoji := "🟢"
	if pnl < 0 {
		emoji = "🔴"
	}
	return fmt.Sprintf("%s *%s Position Closed*\nRealized P&L: ₹%.2f\nReason: %s", emoji, index, pnl, reason)
}

const helpText = `🤖 *Trading Bot Commands*

/session TOKEN - Update API session
/status - Check bot status
/stop - Stop trading
/help - Show this help

📊 Bot runs automatically during market hours.`

// Listen runs the command loop until the context is canceled. Messages from
// any chat other than the configured one are ignored.
func (n *Notifier) Listen(ctx context.Context) error {
	if n.api == nil {
		<-ctx.Done()
		return nil
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := n.api.GetUpdatesChan(u)
	defer n.api.StopReceivingUpdates()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			if update.Message.Chat.ID != n.chatID {
				n.log.WithField("chat_id", update.Message.Chat.ID).Debug("Ignoring unauthorized chat")
				continue
			}
			n.handleCommand(update.Message)
		case <-ctx.Done():
			return nil
		}
	}
}

func (n *Notifier) handleCommand(msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "session":
		token := strings.TrimSpace(msg.CommandArguments())
		if token == "" {
			n.Send("❌ Please provide token: /session YOUR_TOKEN")
			return
		}
		if n.handlers.OnSessionToken != nil {
			n.handlers.OnSessionToken(token)
		}
		n.Send(fmt.Sprintf("✅ Session token updated at %s", time.Now().Format("15:04")))
	case "status":
		if n.handlers.Status != nil {
			n.Send(n.handlers.Status())
		}
	case "stop":
		if n.handlers.OnStop != nil {
			n.handlers.OnStop()
		}
		n.Send("⚠️ Stop command received, trading halted.")
	case "help":
		n.Send(helpText)
	default:
		n.Send("❓ Unknown command. Use /help for available commands.")
	}
}
