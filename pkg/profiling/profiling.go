package profiling

import (
	"fmt"
	"maps"
	"runtime"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/pkg/config"
)

// Profiler wraps the Pyroscope profiler
type Profiler struct {
	profiler *pyroscope.Profiler
	logger   *zap.Logger
}

// ProfileTypes maps the enabled profile switches to Pyroscope profile types
func ProfileTypes(cfg *config.ProfilingConfig) []pyroscope.ProfileType {
	switches := []struct {
		on    bool
		types []pyroscope.ProfileType
	}{
		{cfg.CPUProfile, []pyroscope.ProfileType{pyroscope.ProfileCPU}},
		{cfg.AllocObjectsProfile, []pyroscope.ProfileType{pyroscope.ProfileAllocObjects}},
		{cfg.AllocSpaceProfile, []pyroscope.ProfileType{pyroscope.ProfileAllocSpace}},
		{cfg.InuseObjectsProfile, []pyroscope.ProfileType{pyroscope.ProfileInuseObjects}},
		{cfg.InuseSpaceProfile, []pyroscope.ProfileType{pyroscope.ProfileInuseSpace}},
		{cfg.GoroutineProfile, []pyroscope.ProfileType{pyroscope.ProfileGoroutines}},
		{cfg.MutexProfile, []pyroscope.ProfileType{pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration}},
		{cfg.BlockProfile, []pyroscope.ProfileType{pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration}},
	}

	var types []pyroscope.ProfileType
	for _, s := range switches {
		if s.on {
			types = append(types, s.types...)
		}
	}
	return types
}

// Start starts the Pyroscope profiler in push mode. It returns nil when
// profiling is disabled.
func Start(cfg *config.ProfilingConfig, logger *zap.Logger) (*Profiler, error) {
	if !cfg.Enabled {
		logger.Info("profiling is disabled")
		return nil, nil
	}

	if cfg.MutexProfile {
		runtime.SetMutexProfileFraction(cfg.MutexProfileRate)
	}
	if cfg.BlockProfile {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}

	profileTypes := ProfileTypes(cfg)
	tags := maps.Clone(cfg.Tags)

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		TenantID:          cfg.TenantID,
		Tags:              tags,
		ProfileTypes:      profileTypes,
		DisableGCRuns:     cfg.DisableGCRuns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}

	logger.Info("Pyroscope profiler started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Int("profile_types_count", len(profileTypes)),
	)

	return &Profiler{profiler: profiler, logger: logger}, nil
}

// Stop stops the profiler; it is safe on a nil Profiler
func (p *Profiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}

	if err := p.profiler.Stop(); err != nil {
		return fmt.Errorf("profiler stop: %w", err)
	}

	p.logger.Info("Pyroscope profiler stopped")
	return nil
}
