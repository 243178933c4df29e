package notifier

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/staged-backtester/internal/backtest"
)

type TelegramNotifier struct {
	Token  string
	ChatID string
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{Token: token, ChatID: chatID}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.Token)
	resp, err := http.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry retries transient send failures with exponential backoff,
// capped at one minute.
func (t *TelegramNotifier) SendWithRetry(message string) error {
	const attempts = 3
	backoff := 2 * time.Second

	var err error
	for i := 1; i <= attempts; i++ {
		err = t.Send(message)
		if err == nil {
			return nil
		}
		log.Printf("SendWithRetry | attempt %d/%d failed: %v. Backing off for %v", i, attempts, err, backoff)
		time.Sleep(backoff)
		if backoff < time.Minute {
			backoff *= 2
			if backoff > time.Minute {
				backoff = time.Minute
			}
		}
	}
	return fmt.Errorf("all %d send attempts failed: %w", attempts, err)
}

// FormatRunSummary renders a finished backtest as a short plain-text
// message suitable for a chat notification.
func FormatRunSummary(result *backtest.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backtest finished: %s (%s)\n", result.StrategyName, result.StrategyID)
	fmt.Fprintf(&b, "Capital: %.2f -> %.2f (%.2f%%)\n",
		result.InitialCapital, result.FinalCapital, result.TotalReturnRate)
	fmt.Fprintf(&b, "Max drawdown: %.2f%%\n", result.MaxDrawdown)
	fmt.Fprintf(&b, "Trades: %d, win rate: %.1f%%", len(result.Trades), result.WinRate)
	if len(result.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWarnings: %d", len(result.Warnings))
	}
	return b.String()
}
