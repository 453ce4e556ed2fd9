package services

import (
	"context"
	"time"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"
	"relaycast/pkg/utils"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"

	"go.uber.org/zap"
)

// StatsService assembles the host resource report for the dashboard widget:
// CPU, memory and disk usage plus engine entity counts.
type StatsService struct {
	registry  ports.Registry
	files     ports.FileStore
	statsPath string
	startTime time.Time
	logger    *zap.SugaredLogger
}

func NewStatsService(registry ports.Registry, files ports.FileStore, statsPath string, logger *zap.SugaredLogger) *StatsService {
	if statsPath == "" {
		statsPath = "/"
	}
	return &StatsService{
		registry:  registry,
		files:     files,
		statsPath: statsPath,
		startTime: time.Now(),
		logger:    logger,
	}
}

// Collect samples host metrics. Individual probe failures degrade to zero
// values rather than failing the whole report.
func (s *StatsService) Collect(ctx context.Context) (*domain.ServerStats, error) {
	stats := &domain.ServerStats{
		Uptime: utils.FormatDuration(time.Since(s.startTime)),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	} else if err != nil {
		s.logger.Warnw("cpu probe failed", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.Memory = domain.UsageStats{Total: vm.Total, Used: vm.Used, Percent: vm.UsedPercent}
	} else {
		s.logger.Warnw("memory probe failed", "error", err)
	}

	if du, err := disk.Usage(s.statsPath); err == nil {
		stats.Disk = domain.UsageStats{Total: du.Total, Used: du.Used, Percent: du.UsedPercent}
	} else {
		s.logger.Warnw("disk probe failed", "error", err)
	}

	if streams, err := s.registry.ListStreams(ctx); err == nil {
		for _, stream := range streams {
			if stream.Active {
				stats.ActiveStreams++
			}
		}
	}
	if scheduled, err := s.registry.ListScheduled(ctx); err == nil {
		stats.ScheduledStreams = len(scheduled)
	}
	if files, err := s.files.List(ctx); err == nil {
		stats.DownloadedFiles = len(files)
	}

	return stats, nil
}
