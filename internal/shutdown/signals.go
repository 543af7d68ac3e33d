package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

// SignalHandler delivers the first shutdown signal to a channel.
type SignalHandler struct {
	sigChan  chan os.Signal
	doneChan chan struct{}
	signals  []os.Signal
}

// NewSignalHandler listens for the given signals, defaulting to
// SIGTERM, SIGINT and SIGQUIT.
func NewSignalHandler(signals ...os.Signal) *SignalHandler {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT}
	}
	return &SignalHandler{
		sigChan:  make(chan os.Signal, 1),
		doneChan: make(chan struct{}),
		signals:  signals,
	}
}

// Listen starts signal delivery. The returned channel carries at most
// one signal, then closes; it also closes on Stop.
func (h *SignalHandler) Listen() <-chan os.Signal {
	signal.Notify(h.sigChan, h.signals...)

	out := make(chan os.Signal, 1)
	go func() {
		defer close(out)
		select {
		case sig := <-h.sigChan:
			out <- sig
		case <-h.doneChan:
		}
	}()
	return out
}

// Stop unregisters the handler. Further signals get default handling,
// so a second signal kills the process.
func (h *SignalHandler) Stop() {
	signal.Stop(h.sigChan)
	close(h.doneChan)
}
