package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ciplastic/funnel-dashboard/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates sync health on an interval. An alert type is posted
// once when it starts firing and again only after it has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger

	mu     sync.Mutex
	firing map[AlertType]bool
}

func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring")),
		firing:    make(map[AlertType]bool),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run ticks once immediately and then on every interval until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	every := c.interval()
	c.log.Info("monitoring: checker started",
		zap.Duration("interval", every),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		c.Tick(ctx)
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one health check and returns the number of alerts delivered.
func (c *Checker) Tick(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error("monitoring: collect sync health", zap.Error(err))
		}
		return 0
	}

	fresh := c.transition(c.alerter.Evaluate(snap))
	if len(fresh) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range fresh {
		if c.alerter.SendAlerts(ctx, []Alert{alert}) == 1 {
			sent++
			continue
		}
		// Retry delivery on the next tick.
		c.mu.Lock()
		delete(c.firing, alert.Type)
		c.mu.Unlock()
	}
	c.log.Info("monitoring: alerts raised", zap.Int("new", len(fresh)), zap.Int("sent", sent))
	return sent
}

// transition records the currently firing set and returns the alerts that
// were not firing on the previous tick.
func (c *Checker) transition(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.firing {
		if !now[t] {
			c.log.Info("monitoring: alert cleared", zap.String("type", string(t)))
		}
	}
	c.firing = now
	return fresh
}
