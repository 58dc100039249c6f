// sweeper.go — фоновая очистка файлов с истёкшим сроком ссылки.
//
// Выбирает записи с expires_at < now и для каждой вызывает Lifecycle.PurgeRecord.
// Ошибка удаления одной записи не прерывает пакет: ошибки считаются
// и попадают в итоговый лог.
//
// Запускается как горутина с периодическим тикером (FS_SWEEP_INTERVAL),
// а также синхронно по запросу администратора. Запуски не сериализуются:
// перекрытие тикера и ручного запуска даёт лишь повторные no-op удаления.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/fileshare/internal/clock"
)

// Prometheus метрики Sweeper
var (
	// sweepRunsTotal — количество запусков очистки по источнику.
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_sweep_runs_total",
		Help: "Общее количество запусков очистки",
	}, []string{"trigger"})

	// sweepFilesPurgedTotal — количество удалённых файлов.
	sweepFilesPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_sweep_files_purged_total",
		Help: "Общее количество файлов, удалённых очисткой",
	})

	// sweepErrorsTotal — количество ошибок удаления.
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_sweep_errors_total",
		Help: "Общее количество ошибок при удалении истёкших файлов",
	})

	// sweepDurationSeconds — длительность очистки.
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_sweep_duration_seconds",
		Help:    "Длительность выполнения очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// Источники запуска очистки.
const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
)

// SweepResult — результат одного запуска очистки.
type SweepResult struct {
	// Found — количество истёкших записей в выборке
	Found int
	// Purged — количество удалённых записей
	Purged int
	// Errors — количество ошибок удаления
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// Sweeper — периодическая очистка истёкших файлов.
type Sweeper struct {
	lifecycle *Lifecycle
	interval  time.Duration
	// batchSize — ограничение выборки за один запуск (0 — без ограничения)
	batchSize int
	clock     clock.Clock
	logger    *slog.Logger

	mu     sync.Mutex // защищает cancel и done
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper создаёт Sweeper. Время берётся из c (для тестов — StubClock).
func NewSweeper(
	lifecycle *Lifecycle,
	interval time.Duration,
	batchSize int,
	c clock.Clock,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		lifecycle: lifecycle,
		interval:  interval,
		batchSize: batchSize,
		clock:     c,
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновую горутину очистки. Первый запуск — сразу.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx, s.done)

	s.logger.Info("Очистка запущена",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновую очистку и дожидается завершения текущего запуска.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Очистка остановлена")
}

// run — основной цикл фоновой горутины.
func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.runOnce(ctx, TriggerTimer)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, TriggerTimer)
		}
	}
}

// RunOnce выполняет один запуск очистки синхронно (ручной запуск).
func (s *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	return s.runOnce(ctx, TriggerManual)
}

func (s *Sweeper) runOnce(ctx context.Context, trigger string) *SweepResult {
	start := time.Now()
	result := &SweepResult{}

	now := s.clock.Now()
	s.logger.Debug("Очистка начата", slog.String("trigger", trigger), slog.Time("now", now))

	expired, err := s.lifecycle.ListExpired(ctx, now, s.batchSize)
	if err != nil {
		result.Errors++
		s.logger.Error("Ошибка выборки истёкших файлов",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
	}
	result.Found = len(expired)

	for _, rec := range expired {
		removed, err := s.lifecycle.PurgeRecord(ctx, rec)
		if err != nil {
			result.Errors++
			s.logger.Error("Ошибка удаления истёкшего файла",
				slog.String("file_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if removed {
			result.Purged++
		}
	}

	result.Duration = time.Since(start)

	sweepRunsTotal.WithLabelValues(trigger).Inc()
	sweepFilesPurgedTotal.Add(float64(result.Purged))
	sweepErrorsTotal.Add(float64(result.Errors))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Очистка завершена",
		slog.String("trigger", trigger),
		slog.Int("found", result.Found),
		slog.Int("purged", result.Purged),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}
