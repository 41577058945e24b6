// Package slotio slices one shared duplex byte stream into an ordered
// sequence of single-owner read and write "slots".
//
// A slot's first I/O operation blocks until its predecessor has been
// dropped; dropping a slot releases its successor unconditionally, even on
// error. This is what lets a connection driver hand out a read slot and a
// write slot for request k+1 before request k has been answered: request
// k+1's body parse cannot consume bytes belonging to request k, and
// response k+1 cannot interleave with response k on the wire, without any
// lock around the shared connection itself — the ordering is a property of
// the slot chain, not of a mutex guarding every read/write call.
//
// Grounded on the teacher's buffered low-level reader
// (internal/netx.CRLFFastReader) for the "one shared conn split into
// sequenced per-owner units" shape, and on smux's session/stream pairing
// (multiplexed streams over one conn, each released independently) for the
// release-on-close discipline.
package slotio

import (
	"io"
	"sync"
)

// Conn is the minimal shared-stream interface a Splitter operates over: a
// duplex byte stream (TCP or TLS), matching what net.Conn and *tls.Conn
// both satisfy.
type Conn interface {
	io.Reader
	io.Writer
}

// HalfCloser is implemented by connections that can shut down one direction
// independently (e.g. *net.TCPConn.CloseWrite). Splitter does not call it:
// dropping a slot, including the last one, never half-closes or closes the
// underlying connection.
type HalfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Splitter produces an infinite sequence of read slots and, independently,
// an infinite sequence of write slots, both chained over the same
// underlying Conn.
type Splitter struct {
	conn Conn

	mu       sync.Mutex
	readTail chan struct{} // closed when the most recently issued read slot is dropped
	wrTail   chan struct{} // closed when the most recently issued write slot is dropped
}

// New wraps conn. The first read slot and the first write slot returned by
// NextRead/NextWrite never block on a predecessor.
func New(conn Conn) *Splitter {
	s := &Splitter{conn: conn}
	readyRead := make(chan struct{})
	close(readyRead)
	readyWrite := make(chan struct{})
	close(readyWrite)
	s.readTail = readyRead
	s.wrTail = readyWrite
	return s
}

// NextRead allocates the next read slot in the chain. Its first Read call
// blocks until the previously issued read slot (if any) has been dropped.
func (s *Splitter) NextRead() *ReadSlot {
	s.mu.Lock()
	wait := s.readTail
	release := make(chan struct{})
	s.readTail = release
	s.mu.Unlock()

	return &ReadSlot{
		conn:    s.conn,
		wait:    wait,
		release: release,
	}
}

// NextWrite allocates the next write slot in the chain. Its first Write
// call blocks until the previously issued write slot (if any) has been
// dropped.
func (s *Splitter) NextWrite() *WriteSlot {
	s.mu.Lock()
	wait := s.wrTail
	release := make(chan struct{})
	s.wrTail = release
	s.mu.Unlock()

	return &WriteSlot{
		conn:    s.conn,
		wait:    wait,
		release: release,
	}
}

// ReadSlot is a single-owner permit to read from the underlying stream. The
// first Read blocks on the predecessor's drop; subsequent reads do not.
type ReadSlot struct {
	conn Conn

	wait    <-chan struct{}
	release chan struct{}

	once    sync.Once
	started bool
	mu      sync.Mutex
}

// Read implements io.Reader. The first call waits for the predecessor slot
// to be dropped before touching the shared stream.
func (r *ReadSlot) Read(p []byte) (int, error) {
	r.awaitTurn()
	return r.conn.Read(p)
}

// PredecessorDropped returns the channel that closes once the read slot
// preceding this one in the chain has been dropped. It lets a caller that
// reaches the shared stream through an intermediary (a buffered reader
// sitting in front of the slot, say) synchronize on slot order before that
// intermediary ever calls Read, which is otherwise only gated on its first
// real call — too late if earlier bytes are already sitting in a buffer.
func (r *ReadSlot) PredecessorDropped() <-chan struct{} {
	return r.wait
}

func (r *ReadSlot) awaitTurn() {
	r.mu.Lock()
	first := !r.started
	r.started = true
	r.mu.Unlock()
	if first {
		<-r.wait
	}
}

// Close drops the slot, unconditionally releasing the next read slot in the
// chain. Safe to call multiple times and safe to call without ever reading.
func (r *ReadSlot) Close() error {
	r.once.Do(func() { close(r.release) })
	return nil
}

// WriteSlot is a single-owner permit to write to the underlying stream. The
// first Write blocks on the predecessor's drop; subsequent writes do not.
type WriteSlot struct {
	conn Conn

	wait    <-chan struct{}
	release chan struct{}

	once    sync.Once
	started bool
	mu      sync.Mutex
}

// Write implements io.Writer. The first call waits for the predecessor slot
// to be dropped before touching the shared stream.
func (w *WriteSlot) Write(p []byte) (int, error) {
	w.awaitTurn()
	return w.conn.Write(p)
}

func (w *WriteSlot) awaitTurn() {
	w.mu.Lock()
	first := !w.started
	w.started = true
	w.mu.Unlock()
	if first {
		<-w.wait
	}
}

// Close drops the slot, unconditionally releasing the next write slot in
// the chain. Safe to call multiple times and safe to call without ever
// writing (e.g. a response that errored before any byte was written still
// must unblock the next pipelined response).
func (w *WriteSlot) Close() error {
	w.once.Do(func() { close(w.release) })
	return nil
}
