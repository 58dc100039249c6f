// reconcile.go — фоновая сверка blob-хранилища с записями.
//
// Находит blob, на которые не ссылается ни одна запись (orphaned_blob):
// сбой процесса между записью blob и вставкой записи, неудавшееся
// компенсирующее удаление. Такие blob удаляются, если они старше
// grace-периода: свежий blob может принадлежать загрузке, запись
// которой ещё не вставлена.
//
// Запускается как горутина с периодическим тикером (FS_RECONCILE_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/fileshare/internal/clock"
	"github.com/bigkaa/goartstore/fileshare/internal/repository"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/blobstore"
)

// Prometheus метрики сверки
var (
	// reconcileRunsTotal — количество запусков сверки.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	// reconcileOrphansTotal — blob без записи по результату обработки.
	reconcileOrphansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_reconcile_orphans_total",
		Help: "Общее количество blob без записи, обнаруженных сверкой",
	}, []string{"result"})

	// reconcileDurationSeconds — длительность сверки.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ReconcileResult — результат одного запуска сверки.
type ReconcileResult struct {
	// BlobsChecked — количество проверенных blob
	BlobsChecked int
	// Orphans — blob без записи старше grace-периода
	Orphans int
	// Deleted — удалённые blob
	Deleted int
	// Errors — ошибки проверки и удаления
	Errors   int
	Duration time.Duration
}

// ReconcileService — сервис фоновой сверки хранилищ.
type ReconcileService struct {
	files    repository.FileRepository
	blobs    blobstore.Store
	interval time.Duration
	grace    time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu        sync.Mutex // защищает inProcess, cancel и done
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	files repository.FileRepository,
	blobs blobstore.Store,
	interval time.Duration,
	grace time.Duration,
	c clock.Clock,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		files:    files,
		blobs:    blobs,
		interval: interval,
		grace:    grace,
		clock:    c,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cancel != nil {
		return
	}

	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx, rs.done)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("grace", rs.grace.String()),
	)
}

// Stop останавливает фоновую сверку и дожидается завершения текущего запуска.
// После возврата сверка не обращается к хранилищам.
func (rs *ReconcileService) Stop() {
	rs.mu.Lock()
	cancel, done := rs.cancel, rs.done
	rs.cancel, rs.done = nil, nil
	rs.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	start := time.Now()
	result := &ReconcileResult{}

	blobs, err := rs.blobs.List(ctx)
	if err != nil {
		result.Errors++
		rs.logger.Error("Ошибка перечисления blob", slog.String("error", err.Error()))
	}

	cutoff := rs.clock.Now().Add(-rs.grace)
	for _, b := range blobs {
		if ctx.Err() != nil {
			break
		}
		result.BlobsChecked++

		if b.ModTime.After(cutoff) {
			continue
		}

		referenced, err := rs.files.HasStorageKey(ctx, b.Key)
		if err != nil {
			result.Errors++
			rs.logger.Warn("Ошибка проверки ключа blob",
				slog.String("key", b.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if referenced {
			continue
		}

		result.Orphans++
		if err := rs.blobs.Delete(ctx, b.Key); err != nil {
			result.Errors++
			reconcileOrphansTotal.WithLabelValues("error").Inc()
			rs.logger.Error("Ошибка удаления blob без записи",
				slog.String("key", b.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Deleted++
		reconcileOrphansTotal.WithLabelValues("deleted").Inc()
		rs.logger.Warn("Удалён blob без записи",
			slog.String("key", b.Key),
			slog.Int64("size", b.Size),
			slog.Time("mod_time", b.ModTime),
		)
	}

	result.Duration = time.Since(start)
	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(result.Duration.Seconds())

	rs.logger.Info("Сверка завершена",
		slog.Int("blobs_checked", result.BlobsChecked),
		slog.Int("orphans", result.Orphans),
		slog.Int("deleted", result.Deleted),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result, false
}
