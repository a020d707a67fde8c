package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"apex-core/internal/alpha"
	"apex-core/internal/router"
	"apex-core/internal/state"
	"apex-core/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Telegram sends alerts to a chat through the bot API. Outgoing messages
// flow through a queue drained by one worker under a ~30 msg/s rate limit,
// so callers never block on delivery.
type Telegram struct {
	token      string
	chatID     string
	httpClient *http.Client
	queue      chan string
	limiter    *rate.Limiter
	cancel     context.CancelFunc
}

// NewTelegram creates and starts a Telegram notifier.
func NewTelegram(token, chatID string) *Telegram {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Telegram{
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan string, 256),
		limiter:    rate.NewLimiter(rate.Limit(30), 5),
		cancel:     cancel,
	}
	go t.worker(ctx)
	return t
}

// Close stops the delivery worker. Queued messages are dropped.
func (t *Telegram) Close() {
	t.cancel()
}

func (t *Telegram) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			if err := t.limiter.Wait(ctx); err != nil {
				return
			}
			if err := t.deliver(ctx, msg); err != nil {
				logger.Warn("telegram delivery failed", zap.Error(err))
			}
		}
	}
}

func (t *Telegram) deliver(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", res.StatusCode)
	}
	return nil
}

// SendMessage queues a raw message; drops it if the queue is full.
func (t *Telegram) SendMessage(text string) {
	select {
	case t.queue <- text:
	default:
		logger.Warn("telegram queue full, message dropped")
	}
}

func (t *Telegram) SendSignalAlert(es alpha.EvaluatedSignal) {
	sig := es.Signal
	t.SendMessage(fmt.Sprintf(
		"📡 Signal %s %s\nstrategy: %s\nprob: %.0f%%  EV: %.2f  Kelly: %.2f\nnet ROI: %.2f%%  price: %.4f",
		sig.Symbol, sig.Direction, sig.Strategy,
		sig.WinProbability*100, es.EVScore, es.KellyScore, es.NetROI, sig.CurrentPrice))
}

func (t *Telegram) SendTradeAlert(res router.Result) {
	if res.Success {
		t.SendMessage(fmt.Sprintf(
			"✅ %s %s %s\nqty: %.6f @ %.4f\nTP: %.4f  SL: %.4f",
			res.Exchange, res.Side, res.Symbol, res.Quantity, res.Price, res.TakeProfit, res.StopLoss))
		return
	}
	t.SendMessage(fmt.Sprintf("⚠️ Trade %s on %s: %s (%s)",
		res.Symbol, res.Exchange, res.Status, res.Message))
}

func (t *Telegram) SendPositionClosedAlert(p state.Position, reason string) {
	emoji := "🟢"
	if p.RealizedPnL < 0 {
		emoji = "🔴"
	}
	t.SendMessage(fmt.Sprintf("%s Closed %s %s\nPnL: %.4f\nreason: %s",
		emoji, p.Side, p.Symbol, p.RealizedPnL, reason))
}

func (t *Telegram) SendShutdownAlert(s state.ShutdownState) {
	t.SendMessage(FormatShutdownSummary(s))
}
