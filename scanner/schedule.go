package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Schedule runs a scan window every interval until ctx is done. A window
// still running when the next one is due causes that run to be skipped.
func (s *Scanner) Schedule(ctx context.Context, engine Ingester, interval, window time.Duration) (*cron.Cron, error) {
	if window <= 0 || interval < window {
		return nil, fmt.Errorf("invalid scan schedule: interval %s, window %s", interval, window)
	}

	logger := cronLogger{logger: s.logger.Sugar()}
	c := cron.New(cron.WithLogger(logger))

	// one wrapped job so the immediate first window and the scheduled ones
	// share the same skip guard
	job := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).
		Then(cron.FuncJob(func() { s.RunWindow(ctx, engine, window) }))
	c.Schedule(cron.Every(interval), job)

	go job.Run()
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		s.logger.Info("scan scheduler stopped")
	}()

	return c, nil
}
