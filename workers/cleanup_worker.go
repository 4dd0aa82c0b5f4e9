package workers

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"safemap/models"
)

// SessionRetention deletes ended session records.
type SessionRetention interface {
	DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionHousekeeper is the part of the emergency service the worker tends.
type SessionHousekeeper interface {
	ReapIdle() int
	ActiveSessions(ctx context.Context) ([]models.SessionSnapshot, error)
}

type CleanupWorker struct {
	sessions  SessionRetention
	emergency SessionHousekeeper

	config CleanupWorkerConfig

	isRunning bool
	mutex     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tasks []CleanupTask

	stats      CleanupWorkerStats
	statsMutex sync.RWMutex
}

type CleanupWorkerConfig struct {
	SessionRetentionDays int `json:"sessionRetentionDays"`

	SessionCleanupInterval time.Duration `json:"sessionCleanupInterval"`
	ReapInterval           time.Duration `json:"reapInterval"`
	CachePruneInterval     time.Duration `json:"cachePruneInterval"`
	CheckInterval          time.Duration `json:"checkInterval"`
}

type CleanupTask struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Interval    time.Duration `json:"interval"`
	LastRun     time.Time     `json:"lastRun"`
	NextRun     time.Time     `json:"nextRun"`
	Enabled     bool          `json:"enabled"`
	Function    func(ctx context.Context) error
}

type CleanupWorkerStats struct {
	TasksExecuted      int64            `json:"tasksExecuted"`
	TasksFailed        int64            `json:"tasksFailed"`
	SessionsDeleted    int64            `json:"sessionsDeleted"`
	SlotsReaped        int64            `json:"slotsReaped"`
	LastCleanupAt      time.Time        `json:"lastCleanupAt"`
	TaskExecutionTimes map[string]int64 `json:"taskExecutionTimes"` // ms
	StartTime          time.Time        `json:"startTime"`
}

func DefaultCleanupWorkerConfig() CleanupWorkerConfig {
	return CleanupWorkerConfig{
		SessionRetentionDays:   30,
		SessionCleanupInterval: 24 * time.Hour,
		ReapInterval:           10 * time.Minute,
		CachePruneInterval:     time.Hour,
		CheckInterval:          time.Minute,
	}
}

func NewCleanupWorker(sessions SessionRetention, emergency SessionHousekeeper, config CleanupWorkerConfig) *CleanupWorker {
	defaults := DefaultCleanupWorkerConfig()
	if config.SessionCleanupInterval <= 0 {
		config.SessionCleanupInterval = defaults.SessionCleanupInterval
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = defaults.ReapInterval
	}
	if config.CachePruneInterval <= 0 {
		config.CachePruneInterval = defaults.CachePruneInterval
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker := &CleanupWorker{
		sessions:  sessions,
		emergency: emergency,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		stats: CleanupWorkerStats{
			TaskExecutionTimes: make(map[string]int64),
			StartTime:          time.Now(),
		},
	}
	worker.initializeTasks()
	return worker
}

func (cw *CleanupWorker) Start() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if cw.isRunning {
		return nil
	}
	cw.isRunning = true

	cw.wg.Add(1)
	go cw.taskScheduler()

	logrus.Infof("Cleanup Worker started with %d tasks", len(cw.tasks))
	return nil
}

func (cw *CleanupWorker) Stop() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if !cw.isRunning {
		return nil
	}

	logrus.Info("Stopping Cleanup Worker...")
	cw.cancel()
	cw.isRunning = false
	cw.wg.Wait()

	logrus.Info("Cleanup Worker stopped successfully")
	return nil
}

func (cw *CleanupWorker) initializeTasks() {
	cw.tasks = []CleanupTask{
		{
			Name:        "session_retention",
			Description: "Delete ended emergency sessions past retention",
			Interval:    cw.config.SessionCleanupInterval,
			Enabled:     cw.sessions != nil && cw.config.SessionRetentionDays > 0,
			Function:    cw.cleanupSessions,
		},
		{
			Name:        "idle_slot_reap",
			Description: "Release orchestrators with nothing armed",
			Interval:    cw.config.ReapInterval,
			Enabled:     cw.emergency != nil,
			Function:    cw.reapIdleSlots,
		},
		{
			Name:        "active_cache_prune",
			Description: "Drop expired entries from the active session index",
			Interval:    cw.config.CachePruneInterval,
			Enabled:     cw.emergency != nil,
			Function:    cw.pruneActiveCache,
		},
	}

	now := time.Now()
	for i := range cw.tasks {
		cw.tasks[i].NextRun = now.Add(cw.tasks[i].Interval)
	}
}

func (cw *CleanupWorker) taskScheduler() {
	defer cw.wg.Done()

	ticker := time.NewTicker(cw.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cw.executeScheduledTasks(time.Now())

		case <-cw.ctx.Done():
			return
		}
	}
}

func (cw *CleanupWorker) executeScheduledTasks(now time.Time) {
	for i := range cw.tasks {
		task := &cw.tasks[i]

		if !task.Enabled || now.Before(task.NextRun) {
			continue
		}

		logrus.Debugf("Executing cleanup task: %s", task.Name)

		startTime := time.Now()
		err := task.Function(cw.ctx)
		executionTime := time.Since(startTime)

		cw.statsMutex.Lock()
		cw.stats.TaskExecutionTimes[task.Name] = executionTime.Milliseconds()
		if err != nil {
			cw.stats.TasksFailed++
			logrus.Errorf("Cleanup task %s failed: %v", task.Name, err)
		} else {
			cw.stats.TasksExecuted++
		}
		cw.statsMutex.Unlock()

		task.LastRun = now
		task.NextRun = now.Add(task.Interval)
	}
}

func (cw *CleanupWorker) cleanupSessions(ctx context.Context) error {
	cutoffTime := time.Now().AddDate(0, 0, -cw.config.SessionRetentionDays)

	deletedCount, err := cw.sessions.DeleteEndedSessionsBefore(ctx, cutoffTime)
	if err != nil {
		return err
	}

	cw.statsMutex.Lock()
	cw.stats.SessionsDeleted += deletedCount
	cw.stats.LastCleanupAt = time.Now()
	cw.statsMutex.Unlock()

	if deletedCount > 0 {
		logrus.Infof("Cleaned up %d old emergency sessions", deletedCount)
	}
	return nil
}

func (cw *CleanupWorker) reapIdleSlots(ctx context.Context) error {
	reaped := cw.emergency.ReapIdle()

	cw.statsMutex.Lock()
	cw.stats.SlotsReaped += int64(reaped)
	cw.statsMutex.Unlock()

	if reaped > 0 {
		logrus.Debugf("Released %d idle emergency slots", reaped)
	}
	return nil
}

// Listing prunes index entries whose snapshot has expired.
func (cw *CleanupWorker) pruneActiveCache(ctx context.Context) error {
	_, err := cw.emergency.ActiveSessions(ctx)
	return err
}

func (cw *CleanupWorker) GetStats() CleanupWorkerStats {
	cw.statsMutex.RLock()
	defer cw.statsMutex.RUnlock()

	stats := cw.stats
	stats.TaskExecutionTimes = make(map[string]int64, len(cw.stats.TaskExecutionTimes))
	for k, v := range cw.stats.TaskExecutionTimes {
		stats.TaskExecutionTimes[k] = v
	}
	return stats
}

func StartCleanupWorker(sessions SessionRetention, emergency SessionHousekeeper, config CleanupWorkerConfig) *CleanupWorker {
	worker := NewCleanupWorker(sessions, emergency, config)
	if err := worker.Start(); err != nil {
		logrus.Errorf("Failed to start cleanup worker: %v", err)
	}
	return worker
}
