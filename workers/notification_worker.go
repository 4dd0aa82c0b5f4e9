package workers

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrWorkerNotRunning = errors.New("notification worker is not running")
	ErrQueueFull        = errors.New("notification queue is full")
)

// NotificationWorker is the bounded pool that runs emergency dispatch and
// location jobs. It implements emergency.Executor: Submit never blocks, and a
// rejected job is reported to the caller, which counts it as a failed attempt.
type NotificationWorker struct {
	config NotificationWorkerConfig

	queue chan func()

	isRunning bool
	mutex     sync.RWMutex
	wg        sync.WaitGroup

	stats      NotificationWorkerStats
	statsMutex sync.RWMutex
}

type NotificationWorkerConfig struct {
	WorkerCount int `json:"workerCount"`
	QueueSize   int `json:"queueSize"`
}

type NotificationWorkerStats struct {
	JobsProcessed      int64     `json:"jobsProcessed"`
	JobsRejected       int64     `json:"jobsRejected"`
	JobsPanicked       int64     `json:"jobsPanicked"`
	AverageProcessTime float64   `json:"averageProcessTime"` // ms
	LastProcessedAt    time.Time `json:"lastProcessedAt"`
	QueueLength        int       `json:"queueLength"`
	StartTime          time.Time `json:"startTime"`
}

func NewNotificationWorker(config NotificationWorkerConfig) *NotificationWorker {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	return &NotificationWorker{
		config: config,
	}
}

func (nw *NotificationWorker) Start() error {
	nw.mutex.Lock()
	defer nw.mutex.Unlock()

	if nw.isRunning {
		return nil
	}

	nw.isRunning = true
	nw.queue = make(chan func(), nw.config.QueueSize)

	nw.statsMutex.Lock()
	nw.stats = NotificationWorkerStats{StartTime: time.Now()}
	nw.statsMutex.Unlock()

	logrus.Infof("Starting Notification Worker with %d workers", nw.config.WorkerCount)

	for i := 0; i < nw.config.WorkerCount; i++ {
		nw.wg.Add(1)
		go nw.worker(i, nw.queue)
	}
	return nil
}

// Stop refuses new jobs and waits for queued ones to finish so that attempts
// already handed out still report their outcome.
func (nw *NotificationWorker) Stop() error {
	nw.mutex.Lock()
	if !nw.isRunning {
		nw.mutex.Unlock()
		return nil
	}

	logrus.Info("Stopping Notification Worker...")
	nw.isRunning = false
	close(nw.queue)
	nw.mutex.Unlock()

	nw.wg.Wait()
	logrus.Info("Notification Worker stopped successfully")
	return nil
}

func (nw *NotificationWorker) Submit(job func()) error {
	nw.mutex.RLock()
	defer nw.mutex.RUnlock()

	if !nw.isRunning {
		nw.incrementRejected()
		return ErrWorkerNotRunning
	}

	select {
	case nw.queue <- job:
		return nil
	default:
		nw.incrementRejected()
		return ErrQueueFull
	}
}

func (nw *NotificationWorker) worker(workerID int, queue <-chan func()) {
	defer nw.wg.Done()

	logrus.Debugf("Notification worker %d started", workerID)
	for job := range queue {
		nw.process(job, workerID)
	}
	logrus.Debugf("Notification worker %d stopping", workerID)
}

func (nw *NotificationWorker) process(job func(), workerID int) {
	startTime := time.Now()
	panicked := false

	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logrus.Errorf("Notification worker %d recovered from panic: %v", workerID, r)
		}
		nw.updateStats(time.Since(startTime), panicked)
	}()

	job()
}

func (nw *NotificationWorker) updateStats(duration time.Duration, panicked bool) {
	nw.statsMutex.Lock()
	defer nw.statsMutex.Unlock()

	nw.stats.JobsProcessed++
	if panicked {
		nw.stats.JobsPanicked++
	}
	ms := float64(duration.Milliseconds())
	n := float64(nw.stats.JobsProcessed)
	nw.stats.AverageProcessTime += (ms - nw.stats.AverageProcessTime) / n
	nw.stats.LastProcessedAt = time.Now()
}

func (nw *NotificationWorker) incrementRejected() {
	nw.statsMutex.Lock()
	nw.stats.JobsRejected++
	nw.statsMutex.Unlock()
}

func (nw *NotificationWorker) GetStats() NotificationWorkerStats {
	nw.statsMutex.RLock()
	stats := nw.stats
	nw.statsMutex.RUnlock()

	nw.mutex.RLock()
	if nw.queue != nil && nw.isRunning {
		stats.QueueLength = len(nw.queue)
	}
	nw.mutex.RUnlock()
	return stats
}

// StartNotificationWorker creates and starts the dispatch pool.
func StartNotificationWorker(config NotificationWorkerConfig) *NotificationWorker {
	worker := NewNotificationWorker(config)
	if err := worker.Start(); err != nil {
		logrus.Errorf("Failed to start notification worker: %v", err)
	}
	return worker
}
