package network

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gridchase/internal/protocol/packet"
)

// Sink receives the inbound side of every connection. Calls for one
// connection arrive in order: Connected, then any number of Received and
// Malformed, then exactly one Disconnected.
//
// Implementations must not block indefinitely; they are called from the
// per-connection reader goroutines.
type Sink interface {
	Connected(id int, remoteAddr string)
	Received(id int, p *packet.Packet)
	Malformed(id int, err error)
	Disconnected(id int, cause error)
}

// Options configure a Manager.
type Options struct {
	// MaxClients caps the number of reserved connection IDs. Zero means
	// unlimited.
	MaxClients int
	// OutboxSize is the per-connection queue of frames awaiting write.
	OutboxSize int
}

const defaultOutboxSize = 256

// Manager owns a set of sockets. Each socket gets a reader goroutine that
// decodes frames into the Sink and a writer goroutine that drains a bounded
// outbox, so a slow peer never stalls fan-out to the others.
//
// Connection IDs are the lowest free non-negative integers. An ID stays
// reserved after its socket closes until Release is called, so a reader of
// the Sink never sees an ID reused before it processed the disconnect.
type Manager struct {
	opts   Options
	sink   Sink
	logger *zap.Logger

	mu       sync.Mutex
	peers    map[int]*peer
	reserved map[int]bool
	closed   bool
	wg       sync.WaitGroup
}

type peer struct {
	id   int
	sock Socket
	out  chan []byte
	done chan struct{}

	once  sync.Once
	cause error
}

// close marks the peer dead and closes its socket. The first cause wins.
func (p *peer) close(cause error) {
	p.once.Do(func() {
		p.cause = cause
		close(p.done)
		_ = p.sock.Close()
	})
}

// NewManager creates a Manager feeding sink.
//
// Precondition: sink and logger must be non-nil.
func NewManager(opts Options, sink Sink, logger *zap.Logger) *Manager {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = defaultOutboxSize
	}
	return &Manager{
		opts:     opts,
		sink:     sink,
		logger:   logger,
		peers:    make(map[int]*peer),
		reserved: make(map[int]bool),
	}
}

// Add registers sock, reports it to the Sink as connected, and starts its
// reader and writer.
//
// Postcondition: Returns the assigned ID, or ErrServerFull/ErrManagerClosed
// without taking ownership of sock.
func (m *Manager) Add(sock Socket) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrManagerClosed
	}
	if m.opts.MaxClients > 0 && len(m.reserved) >= m.opts.MaxClients {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %d connections", ErrServerFull, m.opts.MaxClients)
	}
	id := 0
	for m.reserved[id] {
		id++
	}
	p := &peer{
		id:   id,
		sock: sock,
		out:  make(chan []byte, m.opts.OutboxSize),
		done: make(chan struct{}),
	}
	m.reserved[id] = true
	m.peers[id] = p
	m.wg.Add(2)
	m.mu.Unlock()

	m.logger.Debug("connection added",
		zap.Int("conn_id", id),
		zap.String("remote_addr", sock.RemoteAddr()),
	)
	m.sink.Connected(id, sock.RemoteAddr())
	go m.readLoop(p)
	go m.writeLoop(p)
	return id, nil
}

func (m *Manager) readLoop(p *peer) {
	defer m.wg.Done()
	var readErr error
	for {
		frame, err := p.sock.ReadFrame()
		if err != nil {
			readErr = err
			break
		}
		pkt, err := packet.Decode(frame)
		if err != nil {
			m.sink.Malformed(p.id, err)
			continue
		}
		m.sink.Received(p.id, pkt)
	}

	if errors.Is(readErr, io.EOF) {
		readErr = nil
	}
	p.close(readErr)

	m.mu.Lock()
	delete(m.peers, p.id)
	m.mu.Unlock()

	m.logger.Debug("connection closed",
		zap.Int("conn_id", p.id),
		zap.NamedError("cause", p.cause),
	)
	m.sink.Disconnected(p.id, p.cause)
}

func (m *Manager) writeLoop(p *peer) {
	defer m.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.out:
			if err := p.sock.WriteFrame(frame); err != nil {
				p.close(fmt.Errorf("writing frame: %w", err))
				return
			}
		}
	}
}

// enqueue hands frame to p's writer. A full outbox closes the peer.
func (m *Manager) enqueue(p *peer, frame []byte) error {
	select {
	case <-p.done:
		return fmt.Errorf("%w: %d", ErrClosed, p.id)
	default:
	}
	select {
	case p.out <- frame:
		return nil
	default:
		m.logger.Warn("outbox full, closing connection", zap.Int("conn_id", p.id))
		p.close(ErrOutboxFull)
		return fmt.Errorf("%w: %d", ErrOutboxFull, p.id)
	}
}

func (m *Manager) peer(id int) (*peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	return p, ok
}

// snapshot returns the live peers ordered by ID.
func (m *Manager) snapshot() []*peer {
	m.mu.Lock()
	out := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// SendTo queues p for one connection.
//
// Postcondition: Returns ErrUnknownConnection, ErrClosed or ErrOutboxFull if
// the packet could not be queued.
func (m *Manager) SendTo(id int, p *packet.Packet) error {
	pr, ok := m.peer(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, id)
	}
	return m.enqueue(pr, packet.Encode(p))
}

// Broadcast queues p for every live connection.
func (m *Manager) Broadcast(p *packet.Packet) int {
	return m.BroadcastWhere(p, nil)
}

// BroadcastExcept queues p for every live connection but excluded.
func (m *Manager) BroadcastExcept(p *packet.Packet, excluded int) int {
	return m.BroadcastWhere(p, func(id int) bool { return id != excluded })
}

// BroadcastWhere queues p for every live connection accepted by keep; a
// nil keep accepts all. The live set is sampled once. Peers that are gone
// or fail are skipped.
//
// Postcondition: Returns the number of connections the packet was queued for.
func (m *Manager) BroadcastWhere(p *packet.Packet, keep func(id int) bool) int {
	frame := packet.Encode(p)
	sent := 0
	for _, pr := range m.snapshot() {
		if keep != nil && !keep(pr.id) {
			continue
		}
		if err := m.enqueue(pr, frame); err != nil {
			m.logger.Debug("skipping peer during broadcast",
				zap.Int("conn_id", pr.id),
				zap.String("packet", p.Name()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// Close shuts one connection. Its Disconnected call follows asynchronously.
func (m *Manager) Close(id int, cause error) error {
	p, ok := m.peer(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, id)
	}
	if cause == nil {
		cause = ErrClosed
	}
	p.close(cause)
	return nil
}

// Release frees a disconnected connection's ID for reuse.
//
// Postcondition: Returns false, leaving the ID reserved, while the
// connection is still live.
func (m *Manager) Release(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, live := m.peers[id]; live {
		return false
	}
	delete(m.reserved, id)
	return true
}

// Connected returns the live connection IDs in ascending order.
func (m *Manager) Connected() []int {
	peers := m.snapshot()
	ids := make([]int, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.id)
	}
	return ids
}

// IsConnected reports whether id is live.
func (m *Manager) IsConnected(id int) bool {
	_, ok := m.peer(id)
	return ok
}

// Shutdown closes every connection and waits for their goroutines.
//
// Postcondition: Add fails with ErrManagerClosed afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	for _, p := range m.snapshot() {
		p.close(ErrManagerClosed)
	}
	m.wg.Wait()
}
