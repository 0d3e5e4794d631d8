package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"allybot/internal/schedule"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	errNoAdapter   = errors.New("no adapter")
	errEmptyTarget = errors.New("empty target")
)

func eventOf(n kit.Notification, err error) NotificationEvent {
	ev := NotificationEvent{Channel: n.Channel, ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// SendDirect messages a user privately. On Telegram the private chat id is
// the user id.
func (s *Service) SendDirect(ctx context.Context, userID int64, text string) error {
	return s.sendNow(ctx, kit.ChatTarget{ChatID: userID}, text, true)
}

func (s *Service) SendToChannel(ctx context.Context, chatID int64, text string) error {
	return s.sendNow(ctx, kit.ChatTarget{ChatID: chatID}, text, false)
}

// sendNow makes a single rate-limited attempt. Failures wrap
// schedule.ErrDeliveryFailure.
func (s *Service) sendNow(ctx context.Context, to kit.ChatTarget, text string, direct bool) error {
	cfg, lim := s.settings()
	err := s.trySend(ctx, cfg, lim, to, text)
	s.hist.add(HistoryItem{At: time.Now(), ChatID: to.ChatID, Text: text, Direct: direct, Error: errText(err)}, cfg.HistorySize)
	ev := eventOf(kit.Notification{Channel: "telegram", Target: kit.ChatTarget{ChatID: to.ChatID}}, err)
	ev.Direct = direct
	s.publish(ev)
	if err != nil {
		return fmt.Errorf("%w: chat %d: %v", schedule.ErrDeliveryFailure, to.ChatID, err)
	}
	return nil
}

func (s *Service) trySend(ctx context.Context, cfg Config, lim *rate.Limiter, to kit.ChatTarget, text string) error {
	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case s.adapter == nil:
		return errNoAdapter
	case to.ChatID == 0:
		return errEmptyTarget
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	_, err := s.adapter.SendText(callCtx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Service) work(ctx context.Context, q <-chan kit.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

// deliver retries a queued notification with backoff. Cancellation drops it
// silently.
func (s *Service) deliver(ctx context.Context, n kit.Notification) {
	cfg, lim := s.settings()
	text := priorityPrefix(n.Priority) + n.Text
	if s.adapter == nil || text == "" {
		return
	}

	var err error
	for attempt := 1; ; attempt++ {
		if lim.Wait(ctx) != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = s.adapter.SendText(callCtx, n.Target, text, n.Options)
		cancel()
		if err == nil || attempt > cfg.RetryMax {
			break
		}
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", cfg.RetryMax+1))
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	if err != nil {
		s.log.Warn("notify dropped after retries", logx.Int64("chat_id", n.Target.ChatID), logx.Err(err))
	}
	s.hist.add(HistoryItem{At: time.Now(), ChatID: n.Target.ChatID, Text: text, Error: errText(err)}, cfg.HistorySize)
	s.publish(eventOf(n, err))
}

func priorityPrefix(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	}
	return ""
}

// retryDelay follows attempt with base*2^(attempt-1), scaled by a random
// factor in [0.7, 1.3) and capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
