// Package telegram delivers forecast summaries and failure alerts through the
// Telegram Bot API.
//
// Messages use MarkdownV2, so every piece of dynamic text goes through
// escapeMarkdownV2. Delivery is retried with a linearly growing delay.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
	"github.com/rewired-gh/parkcast/internal/report"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	topEvents      int
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, topEvents int) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase, topEvents)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration, topEvents int) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	if topEvents <= 0 {
		topEvents = 5
	}
	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		topEvents:      topEvents,
	}, nil
}

// SendReport posts a summary of a forecast run.
func (c *Client) SendReport(run *models.ForecastRun) error {
	return c.send(formatReport(run, c.topEvents))
}

// SendError posts a failure alert for a named job.
func (c *Client) SendError(job string, jobErr error) error {
	return c.send(formatError(job, jobErr))
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Debug("Telegram send attempt %d/%d failed: %v", i+1, c.maxRetries, err)
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatReport renders a forecast run as a MarkdownV2 message
func formatReport(run *models.ForecastRun, topN int) string {
	var b strings.Builder
	b.WriteString("🅿️ *Parking Revenue Forecast*\n\n")

	if len(run.Rows) == 0 {
		b.WriteString("No forecast rows\\.\n")
		return b.String()
	}

	var lower, upper, baseline float64
	lowConfidence := 0
	for _, row := range run.Rows {
		lower += row.LowerBound
		upper += row.UpperBound
		baseline += row.BaselineRevenue
		if row.LowConfidence {
			lowConfidence++
		}
	}

	fmt.Fprintf(&b, "📅 %s to %s \\(%s, %d days\\)\n",
		escapeMarkdownV2(run.Start.Format(models.DateLayout)),
		escapeMarkdownV2(run.End().Format(models.DateLayout)),
		escapeMarkdownV2(string(run.Mode)), len(run.Rows))
	fmt.Fprintf(&b, "💰 Total: *%s*\n", escapeMarkdownV2(report.Money(run.Total())))
	fmt.Fprintf(&b, "📊 Range: %s to %s\n", escapeMarkdownV2(report.Money(lower)), escapeMarkdownV2(report.Money(upper)))
	fmt.Fprintf(&b, "📈 Event uplift: %s\n", escapeMarkdownV2(report.Money(run.Total()-baseline)))

	if top := report.TopEventDays(run, topN); len(top) > 0 {
		b.WriteString("\n*Top event days*\n")
		for i, row := range top {
			day := fmt.Sprintf("%s %s", row.Date.Format(models.DateLayout), row.DayOfWeek.String()[:3])
			fmt.Fprintf(&b, "%d\\. %s: *%s* \\(%s x%s\\)\n", i+1,
				escapeMarkdownV2(day),
				escapeMarkdownV2(report.Money(row.PredictedTotal)),
				escapeMarkdownV2(string(*row.EventCategory)),
				escapeMarkdownV2(strconv.FormatFloat(row.AppliedMultiplier, 'f', 2, 64)))
			fmt.Fprintf(&b, "   🎟 %s\n", escapeMarkdownV2(strings.Join(row.Events, ", ")))
		}
	}

	if lowConfidence > 0 {
		fmt.Fprintf(&b, "\n⚠️ %d low confidence day", lowConfidence)
		if lowConfidence > 1 {
			b.WriteString("s")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// formatError renders a job failure as a MarkdownV2 message
func formatError(job string, err error) string {
	return fmt.Sprintf("🚨 *%s failed*\n\n`%s`\n", escapeMarkdownV2(job), escapeCode(err.Error()))
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text inside a MarkdownV2 code span
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}
