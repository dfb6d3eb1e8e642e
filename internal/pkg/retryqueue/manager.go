package retryqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/fieldfox/FieldFox/internal/pkg/env"
	"github.com/fieldfox/FieldFox/internal/pkg/metrics/counter"
)

// Manager runs the retry processor and the counter flush on tickers.
type Manager struct {
	processor          *Processor
	ticker             *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// InitializeManager wires the global manager with its processor. Must be
// called once during startup before GetManager.
func InitializeManager(processor *Processor) *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			processor: processor,
			stopCh:    make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global retry queue manager (singleton).
func GetManager() *Manager {
	return globalManager
}

// GetProcessor returns the managed processor for manual triggers.
func (m *Manager) GetProcessor() *Processor {
	return m.processor
}

// Start starts the background retry worker.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true

	interval := retryInterval()
	log.Infof("[RetryQueue Manager] Starting retry worker (interval: %s)", interval)

	m.ticker = time.NewTicker(interval)
	m.wg.Add(1)
	go m.retryWorker()

	// Flush pending Redis counters (downloads, portal views) to the DB
	m.counterFlushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()
}

// Stop stops the background retry worker and waits for it to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[RetryQueue Manager] Stopping retry worker...")

	if m.ticker != nil {
		m.ticker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	// Workers keep reading m.stopCh until they exit; Start recreates the
	// channel for the next cycle, so it must stay non-nil here.
	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[RetryQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) retryWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[RetryQueue Manager] Retry worker stopping")
			return
		case <-m.ticker.C:
			if _, err := m.processor.ProcessQueue(context.Background()); err != nil {
				log.Errorf("[RetryQueue Manager] Queue pass failed: %v", err)
			}
		}
	}
}

// counterFlushWorker periodically flushes in-memory counters from Redis to DB
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[RetryQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := counter.FlushAll(); err != nil {
				log.Errorf("[RetryQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// retryInterval reads the worker interval from the environment, defaulting
// to one minute.
func retryInterval() time.Duration {
	raw := env.GetEnv("RETRY_QUEUE_INTERVAL_SECONDS", "60")
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}
