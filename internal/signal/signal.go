package signal

import (
	"os"
	"os/signal"
)

// interruptChannel receives SIGINT. It is created lazily by the first
// AddInterruptHandler call.
var interruptChannel chan os.Signal

// addHandlerChannel registers a callback with the running interrupt handler.
var addHandlerChannel = make(chan func())

// InterruptHandlersDone is closed once every registered handler has run.
// Commands block on it to keep the process alive until shutdown finishes.
var InterruptHandlersDone = make(chan struct{})

// SimulateInterruptChannel lets internal components trigger the same clean
// shutdown a SIGINT would.
var SimulateInterruptChannel = make(chan struct{}, 1)

// signals handled for a clean shutdown.
var signals = []os.Signal{os.Interrupt, os.Kill}

// SimulateInterrupt requests the clean termination process without an actual
// SIGINT. Duplicate requests while one is pending are dropped.
func SimulateInterrupt() {
	select {
	case SimulateInterruptChannel <- struct{}{}:
	default:
	}
}

// mainInterruptHandler waits for an interrupt, real or simulated, and runs
// the registered callbacks. It also services callback registration and must
// run as a goroutine.
func mainInterruptHandler() {
	var interruptCallbacks []func()
	invokeCallbacks := func() {
		// LIFO, so the last subsystem started is the first torn down
		for i := range interruptCallbacks {
			idx := len(interruptCallbacks) - 1 - i
			interruptCallbacks[idx]()
		}
		close(InterruptHandlersDone)
	}

	for {
		select {
		case <-interruptChannel:
			invokeCallbacks()
			return
		case <-SimulateInterruptChannel:
			invokeCallbacks()
			return

		case handler := <-addHandlerChannel:
			interruptCallbacks = append(interruptCallbacks, handler)
		}
	}
}

// AddInterruptHandler registers a callback to run on interrupt. The first
// call wires the signal notifications and starts the handler goroutine.
func AddInterruptHandler(handler func()) {
	if interruptChannel == nil {
		interruptChannel = make(chan os.Signal, 1)
		signal.Notify(interruptChannel, signals...)
		go mainInterruptHandler()
	}

	addHandlerChannel <- handler
}

// InterruptRequested reports whether shutdown has already completed, letting
// loops bail with an if instead of a select.
func InterruptRequested() bool {
	select {
	case <-InterruptHandlersDone:
		return true
	default:
	}

	return false
}
