package configflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// ErrJobDropped is reported for jobs the scheduler gave up on without running them.
	ErrJobDropped = errors.New("job dropped before execution")

	// ErrQueueStopped is returned by Submit after Stop.
	ErrQueueStopped = errors.New("job queue stopped")
)

// Run-once jobs may wait for a worker as long as a batch of device tests takes.
const defaultOutdatedThreshold = 24 * time.Hour

// JobQueue runs fire-and-forget background work on a bounded go-quartz worker pool and logs
// every completion. Every submitted job ends exactly once, either run or dropped.
type JobQueue struct {
	scheduler *quartz.StdScheduler
	misfired  chan quartz.ScheduledJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	seq       atomic.Uint64
	stopped   atomic.Bool
	pending   sync.Map
	logger    *zap.Logger
}

type queuedJob struct {
	name      string
	fn        func(ctx context.Context) error
	onDropped func()
	once      sync.Once
	done      func(err error, elapsed time.Duration)
}

func (j *queuedJob) Execute(ctx context.Context) (err error) {
	ran := false
	j.once.Do(func() {
		ran = true
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
			j.done(err, time.Since(start))
		}()
		err = j.fn(ctx)
	})
	if !ran {
		return ErrJobDropped
	}
	return err
}

// drop ends a job that never ran.
func (j *queuedJob) drop() {
	j.once.Do(func() {
		if j.onDropped != nil {
			j.onDropped()
		}
		j.done(ErrJobDropped, 0)
	})
}

func (j *queuedJob) Description() string {
	return j.name
}

func NewJobQueue(workerLimit int, logger *zap.Logger) (*JobQueue, error) {
	return newJobQueue(workerLimit, defaultOutdatedThreshold, logger)
}

func newJobQueue(workerLimit int, outdatedThreshold time.Duration, zlogger *zap.Logger) (*JobQueue, error) {
	if workerLimit <= 0 {
		workerLimit = 1
	}
	zlogger = zlogger.With(zap.String("component", "jobs"))
	logger.SetDefault(quartzLogger{zlogger.WithOptions(zap.AddCallerSkip(2))})

	misfired := make(chan quartz.ScheduledJob, 64)
	scheduler := quartz.NewStdSchedulerWithOptions(quartz.StdSchedulerOptions{
		WorkerLimit:       workerLimit,
		OutdatedThreshold: outdatedThreshold,
		RetryInterval:     100 * time.Millisecond,
		MisfiredChan:      misfired,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		scheduler: scheduler,
		misfired:  misfired,
		cancel:    cancel,
		logger:    zlogger,
	}
	go q.handleMisfires(ctx)
	scheduler.Start(ctx)
	return q, nil
}

func (q *JobQueue) handleMisfires(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case scheduled := <-q.misfired:
			if job, ok := scheduled.JobDetail().Job().(*queuedJob); ok {
				q.logger.Warn("job misfired", zap.String("job", job.name))
				job.drop()
			}
		}
	}
}

// Submit schedules fn to run as soon as a worker is free. The submitter never waits for it.
// onDropped, when set, is called instead of fn if the job is never executed.
func (q *JobQueue) Submit(name string, fn func(ctx context.Context) error, onDropped func()) error {
	if q.stopped.Load() {
		return ErrQueueStopped
	}
	id := q.seq.Add(1)
	key := quartz.NewJobKey(fmt.Sprintf("%s#%d", name, id))
	job := &queuedJob{
		name:      name,
		fn:        fn,
		onDropped: onDropped,
	}
	job.done = func(err error, elapsed time.Duration) {
		defer q.wg.Done()
		q.pending.Delete(key.String())
		if err != nil {
			q.logger.Warn("job failed", zap.String("job", name), zap.Duration("elapsed", elapsed), zap.Error(err))
			return
		}
		q.logger.Info("job completed", zap.String("job", name), zap.Duration("elapsed", elapsed))
	}

	q.wg.Add(1)
	q.pending.Store(key.String(), job)
	if err := q.scheduler.ScheduleJob(quartz.NewJobDetail(job, key), quartz.NewRunOnceTrigger(0)); err != nil {
		q.pending.Delete(key.String())
		q.wg.Done()
		return err
	}
	q.logger.Debug("job submitted", zap.String("job", name))
	return nil
}

// Wait blocks until every submitted job has run or been dropped.
func (q *JobQueue) Wait() {
	q.wg.Wait()
}

// Stop shuts the workers down and drops the jobs that did not get to run.
func (q *JobQueue) Stop() {
	q.stopped.Store(true)
	q.scheduler.Stop()
	q.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.scheduler.Wait(ctx)

	q.pending.Range(func(_, value any) bool {
		value.(*queuedJob).drop()
		return true
	})
}

// quartzLogger routes go-quartz logging through zap.
type quartzLogger struct {
	l *zap.Logger
}

func (z quartzLogger) Trace(msg any) {
	z.l.Debug(fmt.Sprint(msg))
}

func (z quartzLogger) Tracef(format string, args ...any) {
	z.l.Debug(fmt.Sprintf(format, args...))
}

func (z quartzLogger) Debug(msg any) {
	z.l.Debug(fmt.Sprint(msg))
}

func (z quartzLogger) Debugf(format string, args ...any) {
	z.l.Debug(fmt.Sprintf(format, args...))
}

func (z quartzLogger) Info(msg any) {
	z.l.Debug(fmt.Sprint(msg))
}

func (z quartzLogger) Infof(format string, args ...any) {
	z.l.Debug(fmt.Sprintf(format, args...))
}

func (z quartzLogger) Warn(msg any) {
	z.l.Warn(fmt.Sprint(msg))
}

func (z quartzLogger) Warnf(format string, args ...any) {
	z.l.Warn(fmt.Sprintf(format, args...))
}

func (z quartzLogger) Error(msg any) {
	z.l.Error(fmt.Sprint(msg))
}

func (z quartzLogger) Errorf(format string, args ...any) {
	z.l.Error(fmt.Sprintf(format, args...))
}

// Enabled maps quartz levels onto zap. Scheduler chatter at info and below is logged at debug.
func (z quartzLogger) Enabled(level logger.Level) bool {
	switch {
	case level >= logger.LevelOff:
		return false
	case level >= logger.LevelError:
		return z.l.Core().Enabled(zapcore.ErrorLevel)
	case level >= logger.LevelWarn:
		return z.l.Core().Enabled(zapcore.WarnLevel)
	default:
		return z.l.Core().Enabled(zapcore.DebugLevel)
	}
}

var _ logger.Logger = quartzLogger{}
