package mixbus

import (
	"fmt"
	"sync"
	"time"
)

// OperationType represents the type of dispatcher operation
type OperationType string

const (
	OpAddClient       OperationType = "add_client"
	OpRemoveClient    OperationType = "remove_client"
	OpSetVolume       OperationType = "set_volume"
	OpSetPan          OperationType = "set_pan"
	OpSetMute         OperationType = "set_mute"
	OpSetSolo         OperationType = "set_solo"
	OpSetEQ           OperationType = "set_eq"
	OpSetRoute        OperationType = "set_route"
	OpSetRouteGain    OperationType = "set_route_gain"
	OpRemoveRoute     OperationType = "remove_route"
	OpSetMasterVolume OperationType = "set_master_volume"
	OpSetMasterMute   OperationType = "set_master_mute"
)

// DispatcherOperation represents one queued control-plane mutation.
type DispatcherOperation struct {
	Type     OperationType
	Data     interface{}
	Response chan DispatcherResult
}

// DispatcherResult represents the result of a dispatcher operation
type DispatcherResult struct {
	Success bool
	Error   error
}

// Data structures for dispatcher operations

type ClientData struct {
	Key string
}

type SetVolumeData struct {
	Key    string
	Volume float64
}

type SetPanData struct {
	Key string
	Pan float64
}

type SetMuteData struct {
	Key   string
	Muted bool
}

type SetSoloData struct {
	Key  string
	Solo bool
}

type SetEQData struct {
	Key    string
	Band   int
	GainDB float64
}

type SetRouteData struct {
	Source  string
	Dest    string
	Channel int
	Enabled bool
}

type SetRouteGainData struct {
	Source  string
	Dest    string
	Channel int
	Gain    float64
}

type RemoveRouteData struct {
	Source  string
	Dest    string
	Channel int
}

type SetMasterVolumeData struct {
	Volume float64
}

type SetMasterMuteData struct {
	Muted bool
}

// Dispatcher funnels every control-plane mutation through a single
// goroutine, so volume/pan/EQ/route changes never race each other:
// the engine's two real-time threads only ever observe mutations
// originating from this one control thread.
type Dispatcher struct {
	controller *Controller
	mu         sync.RWMutex
	isRunning  bool
	operations chan DispatcherOperation
	stopChan   chan struct{}

	// Performance tracking
	lastOperationDuration time.Duration
	maxOperationDuration  time.Duration
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(controller *Controller) *Dispatcher {
	return &Dispatcher{
		controller:           controller,
		operations:           make(chan DispatcherOperation, 100),
		stopChan:             make(chan struct{}),
		maxOperationDuration: 50 * time.Millisecond, // control changes should be prompt
	}
}

// Start begins the dispatch loop.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("dispatcher is already running")
	}

	d.isRunning = true
	go d.dispatchLoop()

	return nil
}

// Stop halts the dispatcher
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isRunning {
		return nil // Already stopped
	}

	close(d.stopChan)
	d.isRunning = false

	return nil
}

// IsRunning returns whether the dispatcher is active
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}

// GetPerformanceStats returns dispatcher performance statistics
func (d *Dispatcher) GetPerformanceStats() (lastDuration, maxDuration time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastOperationDuration, d.maxOperationDuration
}

// Do queues an operation and waits for its result.
func (d *Dispatcher) Do(opType OperationType, data interface{}) error {
	response := make(chan DispatcherResult, 1)
	op := DispatcherOperation{
		Type:     opType,
		Data:     data,
		Response: response,
	}

	select {
	case d.operations <- op:
	case <-d.stopChan:
		return fmt.Errorf("dispatcher stopped")
	}

	select {
	case result := <-response:
		return result.Error
	case <-d.stopChan:
		return fmt.Errorf("dispatcher stopped")
	}
}

// dispatchLoop runs the control-thread loop.
func (d *Dispatcher) dispatchLoop() {
	for {
		select {
		case <-d.stopChan:
			return
		case op := <-d.operations:
			start := time.Now()
			result := d.executeOperation(op)
			duration := time.Since(start)

			d.mu.Lock()
			d.lastOperationDuration = duration
			slow := duration > d.maxOperationDuration
			d.mu.Unlock()

			if slow {
				d.controller.errorHandler.HandleError(
					fmt.Errorf("control operation %s took %v", op.Type, duration))
			}

			op.Response <- result
		}
	}
}

// executeOperation executes a single dispatcher operation
func (d *Dispatcher) executeOperation(op DispatcherOperation) DispatcherResult {
	var err error
	switch op.Type {
	case OpAddClient:
		data := op.Data.(ClientData)
		err = d.controller.applyAddClient(data.Key)

	case OpRemoveClient:
		data := op.Data.(ClientData)
		err = d.controller.applyRemoveClient(data.Key)

	case OpSetVolume:
		data := op.Data.(SetVolumeData)
		err = d.controller.applySetVolume(data.Key, data.Volume)

	case OpSetPan:
		data := op.Data.(SetPanData)
		err = d.controller.applySetPan(data.Key, data.Pan)

	case OpSetMute:
		data := op.Data.(SetMuteData)
		err = d.controller.applySetMute(data.Key, data.Muted)

	case OpSetSolo:
		data := op.Data.(SetSoloData)
		err = d.controller.applySetSolo(data.Key, data.Solo)

	case OpSetEQ:
		data := op.Data.(SetEQData)
		err = d.controller.applySetEQ(data.Key, data.Band, data.GainDB)

	case OpSetRoute:
		data := op.Data.(SetRouteData)
		err = d.controller.applySetRoute(data.Source, data.Dest, data.Channel, data.Enabled)

	case OpSetRouteGain:
		data := op.Data.(SetRouteGainData)
		err = d.controller.applySetRouteGain(data.Source, data.Dest, data.Channel, data.Gain)

	case OpRemoveRoute:
		data := op.Data.(RemoveRouteData)
		err = d.controller.applyRemoveRoute(data.Source, data.Dest, data.Channel)

	case OpSetMasterVolume:
		data := op.Data.(SetMasterVolumeData)
		err = d.controller.applySetMasterVolume(data.Volume)

	case OpSetMasterMute:
		data := op.Data.(SetMasterMuteData)
		err = d.controller.applySetMasterMute(data.Muted)

	default:
		err = fmt.Errorf("unknown operation type: %s", op.Type)
	}

	return DispatcherResult{Success: err == nil, Error: err}
}
