// Package txring implements the transmit queue feeding the lighting
// controller UART: a fixed-capacity circular byte buffer that decouples
// command producers from an asynchronous transmitter, delivering bytes
// in submission order exactly once.
package txring

import (
	"errors"
	"sync"
)

// ErrOverflow is returned by Write when the data does not fit in the
// buffer's free space. The buffer is left untouched.
var ErrOverflow = errors.New("txring: write exceeds free capacity")

// Transmitter starts one asynchronous transmission of a contiguous byte
// run. Implementations must deliver the bytes in order and invoke the
// ring's FinishTransmission exactly once when the run is on the wire.
// The ring guarantees at most one transmission is in flight at a time.
type Transmitter interface {
	Transmit(p []byte)
}

// Ring is a transmit queue over a power-of-two sized circular buffer.
// Write appends bytes at the tail, StartTransmission arms the
// transmitter with the contiguous run at the head, and
// FinishTransmission (invoked from the transmitter's completion
// context) advances the head and re-arms until the buffer drains.
//
// head and tail are free-running; their difference is the occupancy and
// the masked value is the buffer index. A single mutex guards all
// shared state between the producer and the completion context.
type Ring struct {
	mu       sync.Mutex
	buf      []byte
	mask     uint32
	head     uint32
	tail     uint32
	pending  int
	inflight uint32
	sending  bool
	tx       Transmitter
}

const minCapacity = 8

// New returns a ring bound to tx. The capacity is rounded up to the
// next power of two, with a floor of 8 bytes.
func New(capacity int, tx Transmitter) *Ring {
	size := uint32(minCapacity)
	for int(size) < capacity {
		size <<= 1
	}
	return &Ring{buf: make([]byte, size), mask: size - 1, tx: tx}
}

// Cap returns the total buffer capacity in bytes.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// used must be called with mu held.
func (r *Ring) used() uint32 {
	return r.tail - r.head
}

// Free returns the number of bytes that can currently be written.
func (r *Ring) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - int(r.used())
}

// Empty reports whether no bytes are buffered and nothing is in flight.
func (r *Ring) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used() == 0
}

// Pending returns the number of write operations that have been
// enqueued but not yet fully transmitted.
func (r *Ring) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Write appends p at the tail of the buffer and counts it as one
// pending write operation. It has no effect on the hardware; call
// StartTransmission to begin draining. Returns ErrOverflow when p does
// not fit in the free space.
func (r *Ring) Write(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if uint32(len(p)) > uint32(len(r.buf))-r.used() {
		return ErrOverflow
	}
	for _, b := range p {
		r.buf[r.tail&r.mask] = b
		r.tail++
	}
	r.pending++
	return nil
}

// StartTransmission arms the transmitter with the contiguous run of
// buffered bytes at the head. It is a no-op while a transmission is in
// flight or when the buffer is empty. A buffer that wraps around the
// end drains in two back-to-back transmissions.
func (r *Ring) StartTransmission() {
	r.mu.Lock()
	run := r.arm()
	r.mu.Unlock()
	if run != nil {
		r.tx.Transmit(run)
	}
}

// arm reserves the contiguous run at the head and returns it, or nil
// when already sending or empty. Must be called with mu held.
func (r *Ring) arm() []byte {
	if r.sending || r.used() == 0 {
		return nil
	}
	idx := r.head & r.mask
	n := r.used()
	if rem := uint32(len(r.buf)) - idx; n > rem {
		n = rem
	}
	r.sending = true
	r.inflight = n
	return r.buf[idx : idx+n]
}

// FinishTransmission advances the head past the run just transmitted
// and immediately re-arms the next contiguous run if bytes remain. It
// must be invoked from the transmitter's completion context only, once
// per transmitted run.
//
// Pending-write accounting is by completion, not by write boundary: a
// run that merges several writes retires one count, a write split
// across two runs keeps its count until the split drains, and the
// count is zeroed once the buffer empties. Pending()==0 therefore
// holds exactly when the queue is empty and idle.
func (r *Ring) FinishTransmission() {
	r.mu.Lock()
	r.head += r.inflight
	r.inflight = 0
	r.sending = false
	if r.used() == 0 {
		r.pending = 0
	} else if r.pending > 1 {
		r.pending--
	}
	run := r.arm()
	r.mu.Unlock()
	if run != nil {
		r.tx.Transmit(run)
	}
}
