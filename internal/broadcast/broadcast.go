// Package broadcast delivers one message to many chats at a bounded rate.
package broadcast

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/studybot/internal/logger"
	"golang.org/x/time/rate"
)

// MaxReportedFailures caps the number of failed ids listed in a summary
const MaxReportedFailures = 5

// DefaultRate is the delivery rate used when none is configured, kept
// under the Telegram global limit of 30 messages per second
const DefaultRate = 25

// SendFunc delivers the message to one recipient
type SendFunc func(ctx context.Context, recipient string) error

// Recorder counts deliveries
type Recorder interface {
	RecordDelivery(ok bool)
}

// Report is the outcome of a broadcast
type Report struct {
	Sent   int
	Failed []string
}

// Summary renders the report for the owner who started the broadcast
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Рассылка завершена:\nОтправлено: %d\nНе удалось: %d", r.Sent, len(r.Failed))
	if len(r.Failed) == 0 {
		return b.String()
	}

	shown := r.Failed
	if len(shown) > MaxReportedFailures {
		shown = shown[:MaxReportedFailures]
	}
	fmt.Fprintf(&b, "\n\nОшибки у ID: %s", strings.Join(shown, ", "))
	if len(r.Failed) > MaxReportedFailures {
		b.WriteString("...")
	}
	return b.String()
}

// Broadcaster paces deliveries with a token bucket
type Broadcaster struct {
	limiter  *rate.Limiter
	recorder Recorder
	log      *logger.Logger
}

// New creates a Broadcaster sending at most perSecond messages per second
func New(perSecond float64, recorder Recorder, log *logger.Logger) *Broadcaster {
	if perSecond <= 0 {
		perSecond = DefaultRate
	}
	return &Broadcaster{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		recorder: recorder,
		log:      log,
	}
}

// Fanout calls send for every recipient in order. A failed delivery is
// recorded and skipped. Cancelling ctx stops the fan-out and returns the
// partial report together with the context error.
func (b *Broadcaster) Fanout(ctx context.Context, recipients []string, send SendFunc) (Report, error) {
	var report Report
	for _, id := range recipients {
		if err := b.limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("broadcast interrupted after %d deliveries: %w", report.Sent+len(report.Failed), err)
		}

		err := send(ctx, id)
		if b.recorder != nil {
			b.recorder.RecordDelivery(err == nil)
		}
		if err != nil {
			b.log.Error().Err(err).Str("recipient", id).Msg("broadcast delivery failed")
			report.Failed = append(report.Failed, id)
			continue
		}
		report.Sent++
	}

	b.log.Info().Int("sent", report.Sent).Int("failed", len(report.Failed)).Msg("broadcast finished")
	return report, nil
}
