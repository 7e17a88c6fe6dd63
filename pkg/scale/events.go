package scale

import "sync"

// Dispatcher delivers driver events to subscribers. Handlers are called
// synchronously in the order the events were produced, channels receive
// non-blocking sends and drop events if they are full.
//
// Handlers run on the listener goroutine of the Scale. They may issue commands
// and may close or reopen the scale.
type Dispatcher struct {
	logger Logger

	mu             sync.RWMutex
	stableHandlers []func(StableWeight)
	sampleHandlers []func(Sample)
	errorHandlers  []func(PortError)
	stableChans    []chan<- StableWeight
	errorChans     []chan<- PortError
}

// NewDispatcher creates a dispatcher without subscribers.
func NewDispatcher(logger Logger) *Dispatcher {
	if logger == nil {
		logger = &NullLogger{}
	}
	return &Dispatcher{logger: logger}
}

// OnStableWeight registers a handler called for every stable weight.
func (d *Dispatcher) OnStableWeight(fn func(StableWeight)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stableHandlers = append(d.stableHandlers, fn)
}

// OnSample registers a handler called for every decoded telegram.
func (d *Dispatcher) OnSample(fn func(Sample)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sampleHandlers = append(d.sampleHandlers, fn)
}

// OnPortError registers a handler called for transport errors.
func (d *Dispatcher) OnPortError(fn func(PortError)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorHandlers = append(d.errorHandlers, fn)
}

// NotifyStableWeight registers a channel receiving every stable weight.
func (d *Dispatcher) NotifyStableWeight(ch chan<- StableWeight) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stableChans = append(d.stableChans, ch)
}

// NotifyPortError registers a channel receiving transport errors.
func (d *Dispatcher) NotifyPortError(ch chan<- PortError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorChans = append(d.errorChans, ch)
}

func (d *Dispatcher) dispatchStableWeight(ev StableWeight) {
	d.mu.RLock()
	handlers, chans := d.stableHandlers, d.stableChans
	d.mu.RUnlock()

	for _, fn := range handlers {
		d.call("stable weight", func() { fn(ev) })
	}
	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			d.logger.Warnf("stable weight channel full, dropping %s", ev)
		}
	}
}

func (d *Dispatcher) dispatchSample(s Sample) {
	d.mu.RLock()
	handlers := d.sampleHandlers
	d.mu.RUnlock()

	for _, fn := range handlers {
		d.call("sample", func() { fn(s) })
	}
}

func (d *Dispatcher) dispatchPortError(ev PortError) {
	d.mu.RLock()
	handlers, chans := d.errorHandlers, d.errorChans
	d.mu.RUnlock()

	if len(handlers) == 0 && len(chans) == 0 {
		d.logger.Errorf("port error: %s", ev.Err)
		return
	}

	for _, fn := range handlers {
		d.call("port error", func() { fn(ev) })
	}
	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			d.logger.Warnf("port error channel full, dropping: %s", ev.Err)
		}
	}
}

// call runs a subscriber, recovering from a panic so that a faulty handler
// cannot stop the listener.
func (d *Dispatcher) call(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("recovered from panic in %s handler: %v", event, r)
		}
	}()
	fn()
}
