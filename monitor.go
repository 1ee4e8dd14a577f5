package mixbus

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ProcessLister enumerates the audio-producing clients currently
// attached to the virtual endpoint. Implementations return stable
// bundle keys; order is irrelevant.
type ProcessLister interface {
	ListClients() ([]string, error)
}

// ProcessListerFunc adapts a function to ProcessLister.
type ProcessListerFunc func() ([]string, error)

// ListClients implements ProcessLister.
func (f ProcessListerFunc) ListClients() ([]string, error) {
	return f()
}

// ClientMonitor polls a ProcessLister for attach/detach events and
// keeps the controller's managed client set in sync. Polling is
// adaptive: it backs off while the client set is stable and snaps back
// to the base interval the moment it changes.
type ClientMonitor struct {
	controller *Controller
	lister     ProcessLister

	mu        sync.RWMutex
	isRunning bool
	stopChan  chan struct{}

	// Adaptive polling
	baseInterval    time.Duration
	maxInterval     time.Duration
	currentInterval time.Duration
	lastChangeTime  time.Time
	noChangeCount   int

	// Client state tracking
	lastKeys map[string]struct{}

	// Performance tracking
	averageCheckTime time.Duration
	maxCheckTime     time.Duration
	checkCount       int64

	onClientAdded   func(key string)
	onClientRemoved func(key string)
}

// NewClientMonitor creates a monitor bound to a controller and lister.
func NewClientMonitor(controller *Controller, lister ProcessLister) *ClientMonitor {
	return &ClientMonitor{
		controller:      controller,
		lister:          lister,
		baseInterval:    50 * time.Millisecond,
		maxInterval:     200 * time.Millisecond,
		currentInterval: 50 * time.Millisecond,
		lastChangeTime:  time.Now(),
		lastKeys:        make(map[string]struct{}),
	}
}

// SetCallbacks configures client attach/detach callbacks. Callbacks
// run on the monitor goroutine after the controller has been updated.
func (cm *ClientMonitor) SetCallbacks(onAdded, onRemoved func(key string)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onClientAdded = onAdded
	cm.onClientRemoved = onRemoved
}

// Start begins client polling. The initial client set is managed
// synchronously before the first tick.
func (cm *ClientMonitor) Start() error {
	cm.mu.Lock()
	if cm.isRunning {
		cm.mu.Unlock()
		return fmt.Errorf("client monitor is already running")
	}
	cm.isRunning = true
	cm.stopChan = make(chan struct{})
	cm.mu.Unlock()

	cm.checkClients()
	go cm.monitorLoop()
	return nil
}

// Stop halts client polling. Idempotent.
func (cm *ClientMonitor) Stop() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !cm.isRunning {
		return nil
	}
	close(cm.stopChan)
	cm.isRunning = false
	return nil
}

// IsRunning reports whether the monitor loop is active.
func (cm *ClientMonitor) IsRunning() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isRunning
}

// GetPollingInterval returns the current adaptive polling interval.
func (cm *ClientMonitor) GetPollingInterval() time.Duration {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.currentInterval
}

// GetPerformanceStats returns client check timing statistics.
func (cm *ClientMonitor) GetPerformanceStats() (avgTime, maxTime time.Duration, checkCount int64) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.averageCheckTime, cm.maxCheckTime, cm.checkCount
}

// ForceCheck triggers an immediate client check (useful for testing).
func (cm *ClientMonitor) ForceCheck() {
	cm.checkClients()
}

func (cm *ClientMonitor) monitorLoop() {
	cm.mu.RLock()
	interval := cm.currentInterval
	stopChan := cm.stopChan
	cm.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			cm.checkClients()

			cm.mu.RLock()
			newInterval := cm.currentInterval
			cm.mu.RUnlock()

			if newInterval != interval {
				ticker.Reset(newInterval)
				interval = newInterval
			}
		}
	}
}

// checkClients diffs the lister's current client set against the last
// observed one and drives controller Manage/Unmanage accordingly.
func (cm *ClientMonitor) checkClients() {
	start := time.Now()

	keys, err := cm.lister.ListClients()
	if err != nil {
		cm.controller.errorHandler.HandleError(fmt.Errorf("client enumeration failed: %w", err))
		return
	}

	current := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		current[k] = struct{}{}
	}

	cm.mu.Lock()
	var added, removed []string
	for k := range current {
		if _, ok := cm.lastKeys[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range cm.lastKeys {
		if _, ok := current[k]; !ok {
			removed = append(removed, k)
		}
	}
	cm.lastKeys = current
	onAdded := cm.onClientAdded
	onRemoved := cm.onClientRemoved
	cm.mu.Unlock()

	cm.updatePerformanceStats(time.Since(start))

	if len(added) == 0 && len(removed) == 0 {
		cm.adaptiveSlowdown()
		return
	}
	cm.adaptiveSpeedup()

	// Deterministic ordering keeps logs and tests stable.
	sort.Strings(added)
	sort.Strings(removed)

	for _, k := range added {
		if err := cm.controller.ManageClient(k); err != nil {
			cm.controller.errorHandler.HandleError(fmt.Errorf("manage client %s: %w", k, err))
			continue
		}
		if onAdded != nil {
			onAdded(k)
		}
	}
	for _, k := range removed {
		if err := cm.controller.UnmanageClient(k); err != nil {
			cm.controller.errorHandler.HandleError(fmt.Errorf("unmanage client %s: %w", k, err))
			continue
		}
		if onRemoved != nil {
			onRemoved(k)
		}
	}
}

func (cm *ClientMonitor) updatePerformanceStats(elapsed time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.checkCount++
	if cm.checkCount == 1 {
		cm.averageCheckTime = elapsed
	} else {
		// EMA with alpha = 0.1
		cm.averageCheckTime = time.Duration(float64(cm.averageCheckTime)*0.9 + float64(elapsed)*0.1)
	}
	if elapsed > cm.maxCheckTime {
		cm.maxCheckTime = elapsed
	}
}

// adaptiveSlowdown gradually increases the polling interval while the
// client set stays unchanged.
func (cm *ClientMonitor) adaptiveSlowdown() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.noChangeCount++
	if cm.noChangeCount > 10 {
		newInterval := time.Duration(float64(cm.currentInterval) * 1.1)
		if newInterval > cm.maxInterval {
			newInterval = cm.maxInterval
		}
		cm.currentInterval = newInterval
	}
}

// adaptiveSpeedup resets to fast polling when the client set changes.
func (cm *ClientMonitor) adaptiveSpeedup() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.noChangeCount = 0
	cm.lastChangeTime = time.Now()
	cm.currentInterval = cm.baseInterval
}
