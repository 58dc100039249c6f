// Пакет leader — выбор экземпляра, выполняющего фоновую очистку и сверку,
// через flock() на общей файловой системе.
//
// Несколько экземпляров fileshare с общим blob-хранилищем обслуживают
// HTTP-запросы одинаково, но очистку истёкших файлов и сверку должен
// выполнять только один.
//
// Алгоритм:
//  1. Попытка захватить эксклюзивную блокировку на lock-файле
//  2. Если блокировка получена — роль leader, идентификатор записывается в {lock}.holder
//  3. Если нет — роль follower, идентификатор leader читается из {lock}.holder
//  4. Follower периодически пытается захватить lock
package leader

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultRetryInterval — интервал попыток захвата lock для follower.
const DefaultRetryInterval = 5 * time.Second

// holderSuffix — суффикс файла с идентификатором leader.
const holderSuffix = ".holder"

// Role — роль экземпляра.
type Role string

const (
	// RoleStandalone — lock-файл не задан, экземпляр выполняет фоновые задачи сам.
	RoleStandalone Role = "standalone"
	// RoleLeader — экземпляр держит lock и выполняет фоновые задачи.
	RoleLeader Role = "leader"
	// RoleFollower — только HTTP, ожидает освобождения lock.
	RoleFollower Role = "follower"
)

// isLeader — 1, если экземпляр выполняет фоновые задачи.
var isLeader = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fs_leader",
	Help: "1, если экземпляр выполняет очистку и сверку",
})

// Election — leader election через flock() на общей FS.
type Election struct {
	lockPath      string
	holderID      string
	retryInterval time.Duration
	logger        *slog.Logger

	// onBecomeLeader вызывается один раз при получении lock
	onBecomeLeader func()

	mu       sync.RWMutex
	role     Role
	holder   string
	lockFile *os.File // открытый файл с flock

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewElection создаёт экземпляр leader election.
// holderID — идентификатор экземпляра в {lock}.holder (пустой — hostname:pid).
// retryInterval 0 — DefaultRetryInterval.
func NewElection(
	lockPath string,
	holderID string,
	retryInterval time.Duration,
	onBecomeLeader func(),
	logger *slog.Logger,
) *Election {
	if holderID == "" {
		holderID = defaultHolderID()
	}
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Election{
		lockPath:       lockPath,
		holderID:       holderID,
		retryInterval:  retryInterval,
		onBecomeLeader: onBecomeLeader,
		logger:         logger.With(slog.String("component", "leader")),
		role:           RoleFollower,
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start определяет начальную роль и возвращает управление.
// Follower продолжает попытки в фоне до Stop.
func (e *Election) Start() error {
	acquired, err := e.tryAcquireLock()
	if err != nil {
		return fmt.Errorf("ошибка при попытке захвата lock: %w", err)
	}

	if acquired {
		e.becomeLeader()
		close(e.done)
		return nil
	}

	e.becomeFollower()
	go e.retryLoop()
	return nil
}

// Stop останавливает election и освобождает lock. Повторный вызов безопасен.
func (e *Election) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		<-e.done

		e.mu.Lock()
		defer e.mu.Unlock()

		if e.lockFile != nil {
			_ = syscall.Flock(int(e.lockFile.Fd()), syscall.LOCK_UN)
			_ = e.lockFile.Close()
			e.lockFile = nil
			isLeader.Set(0)
			e.logger.Info("Lock освобождён", slog.String("path", e.lockPath))
		}
	})
}

// CurrentRole возвращает текущую роль экземпляра.
func (e *Election) CurrentRole() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// IsLeader возвращает true, если экземпляр держит lock.
func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role == RoleLeader
}

// Holder возвращает идентификатор текущего leader (пусто, если неизвестен).
func (e *Election) Holder() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.holder
}

// tryAcquireLock пытается захватить flock без ожидания.
func (e *Election) tryAcquireLock() (bool, error) {
	f, err := os.OpenFile(e.lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return false, fmt.Errorf("не удалось открыть lock-файл %s: %w", e.lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		// Занят другим процессом
		_ = f.Close()
		return false, nil
	}

	e.mu.Lock()
	e.lockFile = f
	e.mu.Unlock()

	return true, nil
}

func (e *Election) becomeLeader() {
	e.mu.Lock()
	e.role = RoleLeader
	e.holder = e.holderID
	e.mu.Unlock()

	if err := e.writeHolder(); err != nil {
		e.logger.Error("Ошибка записи holder-файла", slog.String("error", err.Error()))
	}
	isLeader.Set(1)

	e.logger.Info("Роль: LEADER, фоновые задачи выполняются этим экземпляром",
		slog.String("holder", e.holderID),
	)

	if e.onBecomeLeader != nil {
		e.onBecomeLeader()
	}
}

func (e *Election) becomeFollower() {
	holder := e.readHolder()

	e.mu.Lock()
	e.role = RoleFollower
	e.holder = holder
	e.mu.Unlock()
	isLeader.Set(0)

	e.logger.Info("Роль: FOLLOWER", slog.String("leader", holder))
}

// retryLoop — горутина follower.
func (e *Election) retryLoop() {
	defer close(e.done)

	ticker := time.NewTicker(e.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			holder := e.readHolder()
			e.mu.Lock()
			e.holder = holder
			e.mu.Unlock()

			acquired, err := e.tryAcquireLock()
			if err != nil {
				e.logger.Warn("Ошибка повторного захвата lock", slog.String("error", err.Error()))
				continue
			}
			if acquired {
				e.becomeLeader()
				return
			}
		}
	}
}

// writeHolder атомарно записывает идентификатор leader.
func (e *Election) writeHolder() error {
	path := e.lockPath + holderSuffix
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, []byte(e.holderID), 0o640); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("ошибка переименования %s: %w", tmpPath, err)
	}
	return nil
}

// readHolder возвращает пустую строку, если файл отсутствует.
func (e *Election) readHolder() string {
	data, err := os.ReadFile(e.lockPath + holderSuffix)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func defaultHolderID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return fmt.Sprintf("%s:%d", hostname, os.Getpid())
}
