package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Poller runs passes on a fixed interval. It lives outside the core and is
// only started when the server is configured to poll on its own.
type Poller struct {
	reconciler *Reconciler
	interval   time.Duration
}

func NewPoller(r *Reconciler, interval time.Duration) *Poller {
	return &Poller{reconciler: r, interval: interval}
}

// Run 后台常驻，ctx 结束时返回
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger := p.reconciler.logger
	logger.Info("poller started", zap.Duration("interval", p.interval))
	announced := false
	for {
		select {
		case <-ticker.C:
			report, err := p.reconciler.Pass(ctx)
			if err != nil {
				continue
			}
			if report.AllFinished && len(report.Cases) > 0 && !announced {
				logger.Info("all cases finished",
					zap.Int("pass", report.Summary.Pass),
					zap.Int("fail", report.Summary.Fail),
					zap.Int("timeout", report.Summary.Timeout))
			}
			announced = report.AllFinished
		case <-ctx.Done():
			logger.Info("poller stopped")
			return
		}
	}
}
