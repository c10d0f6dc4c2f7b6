// Package serialport adapts a serial connection to the transmit ring's
// asynchronous Transmitter contract: a single writer goroutine drains
// one run at a time and reports completion, standing in for the
// transmit-complete interrupt of the lighting chip's UART.
package serialport

import (
	"io"
	"sync"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/anne-pro-tools/aplights/internal/logging"
	"github.com/anne-pro-tools/aplights/internal/metric"
)

var (
	logger = logging.New("serialport")

	bytesTransmitted = metric.Counter("serial", "bytes_transmitted_total")
	writeErrors      = metric.Counter("serial", "write_errors_total")
	droppedRuns      = metric.Counter("serial", "dropped_runs_total")
)

// Port drives an underlying serial connection. At most one
// transmission is in flight at a time; the completion handler runs on
// the writer goroutine after the bytes have been handed to the OS
// driver. Write errors are logged and counted, not propagated — the
// wire is best effort, there is no retry.
type Port struct {
	w          io.WriteCloser
	runs       chan []byte
	done       chan struct{}
	onComplete func()

	mu     sync.Mutex
	closed bool
}

// Open opens the UART device via tarm/serial (8N1, no flow control)
// and returns a Port driving it. onComplete runs after every
// transmitted run, typically the transmit ring's FinishTransmission;
// it may be nil.
func Open(device string, baud int, onComplete func()) (*Port, error) {
	s, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, err
	}
	return New(s, onComplete), nil
}

// New returns a Port writing to w. The caller keeps ownership of w
// until Close.
func New(w io.WriteCloser, onComplete func()) *Port {
	p := &Port{
		w:          w,
		runs:       make(chan []byte, 1),
		done:       make(chan struct{}),
		onComplete: onComplete,
	}
	go p.sender()
	return p
}

// Transmit hands one contiguous run to the writer goroutine. It must
// not be called while a previous run is still in flight; the transmit
// ring enforces this. Runs arriving after Close are dropped but still
// completed, so the ring's bookkeeping drains instead of wedging.
func (p *Port) Transmit(buf []byte) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		droppedRuns.Inc()
		if fn := p.onComplete; fn != nil {
			fn()
		}
		return
	}
	p.runs <- buf
	p.mu.Unlock()
}

func (p *Port) sender() {
	defer close(p.done)
	for buf := range p.runs {
		if _, err := p.w.Write(buf); err != nil {
			logger.With(zap.Error(err)).Error("Serial write failed")
			writeErrors.Inc()
		} else {
			bytesTransmitted.Add(len(buf))
		}
		if fn := p.onComplete; fn != nil {
			fn()
		}
	}
}

// Close stops accepting runs, waits for the in-flight run and its
// completion handler to finish, then closes the underlying
// connection. Safe to call more than once.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.runs)
	p.mu.Unlock()
	<-p.done
	return p.w.Close()
}
