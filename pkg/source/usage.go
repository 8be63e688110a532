package source

import (
	"context"
	"time"

	"github.com/relaykit/relay/pkg/events"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	log "github.com/sirupsen/logrus"
)

// Config holds usage source configuration
type Config struct {
	Session   string
	Interval  time.Duration
	SkipFirst bool
}

// UsageSource periodically samples host CPU and memory and produces usage
// events for the given session.
type UsageSource struct {
	config Config
	logger *log.Logger
}

// NewUsageSource creates a usage source. Interval defaults to 30s.
func NewUsageSource(config Config, logger *log.Logger) *UsageSource {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	return &UsageSource{
		config: config,
		logger: logger,
	}
}

// Name returns the source name
func (s *UsageSource) Name() string {
	return "usage"
}

// Interval returns the sampling interval
func (s *UsageSource) Interval() time.Duration {
	return s.config.Interval
}

// Start samples on an interval and sends usage events until the context is
// cancelled.
func (s *UsageSource) Start(ctx context.Context, out chan<- events.Event) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Execute immediately unless SkipFirst is set
	if !s.config.SkipFirst {
		if err := s.sampleAndSend(ctx, out); err != nil {
			s.logger.Debugf("[usage] initial sample error: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sampleAndSend(ctx, out); err != nil {
				s.logger.Debugf("[usage] sample error: %v", err)
				// Continue running even on error
			}
		}
	}
}

func (s *UsageSource) sampleAndSend(ctx context.Context, out chan<- events.Event) error {
	metrics := make(map[string]float64)

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		metrics["cpu_percent"] = percents[0]
	} else if err != nil {
		s.logger.Debugf("[usage] cpu sample failed: %v", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	metrics["mem_used_percent"] = vm.UsedPercent
	metrics["mem_used_bytes"] = float64(vm.Used)

	event := events.NewUsageEvent(s.config.Session, metrics)
	select {
	case out <- event:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
