// Package scheduler периодически запускает задачи обновления.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skalibog/tradetracker/pkg/logger"
	"go.uber.org/zap"
)

// Job задача обновления. Ошибка логируется, следующий цикл выполняется как обычно.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler запускает задачи последовательно по таймеру и по запросу
type Scheduler struct {
	interval time.Duration

	mu      sync.Mutex
	jobs    []Job
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}

	// runMu не дает задачам выполняться параллельно
	runMu sync.Mutex
}

// New создает планировщик
func New(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Interval период запуска
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Add регистрирует задачу
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

// Start запускает цикл. Повторный вызов без Stop ничего не делает.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	logger.Info("Планировщик запущен", zap.Duration("interval", s.interval))
}

// Stop останавливает цикл и дожидается его завершения
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("Планировщик остановлен")
}

// Running запущен ли цикл
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Trigger просит цикл выполнить задачи вне очереди, не дожидаясь их
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// RefreshNow выполняет все задачи сразу, минуя таймер
func (s *Scheduler) RefreshNow(ctx context.Context) error {
	return s.runJobs(ctx)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.runJobs(ctx)
		case <-s.trigger:
			_ = s.runJobs(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runJobs(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	var errs []error
	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.runJob(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Паника в задаче планировщика", zap.String("job", job.Name), zap.Any("panic", r))
			err = errors.New("паника в задаче " + job.Name)
		}
	}()

	start := time.Now()
	if err = job.Run(ctx); err != nil {
		logger.Warn("Ошибка задачи планировщика", zap.String("job", job.Name), zap.Error(err))
		return err
	}
	logger.Debug("Задача выполнена", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
	return nil
}
