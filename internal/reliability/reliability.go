// Package reliability implements at-least-once, deduplicated message
// delivery over UDP: per-sender sequence numbers, acknowledgments, timed
// retransmission with bounded retries, and duplicate suppression.
package reliability

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pokeproto-project/pokeproto/internal/protocol"
	"github.com/pokeproto-project/pokeproto/internal/util"
)

// SeenWindowSize bounds the per-sender duplicate suppression window.
// It only has to cover retransmits within one session; 1024 entries is
// far more than any realistic battle produces.
const SeenWindowSize = 1024

// SendFunc transmits one encoded datagram to a destination. It must not
// block; UDP sendto satisfies this.
type SendFunc func(payload []byte, dest *net.UDPAddr) error

// Options holds the timing parameters of the retransmit machinery.
type Options struct {
	AckTimeout time.Duration
	Tick       time.Duration
	MaxRetries int
}

// DefaultOptions matches the protocol constants: 500 ms ACK deadline,
// 100 ms sweep tick, 3 retries (a message is abandoned after ~2 s).
func DefaultOptions() Options {
	return Options{
		AckTimeout: 500 * time.Millisecond,
		Tick:       100 * time.Millisecond,
		MaxRetries: 3,
	}
}

// ConnectionFailedError reports a message that exhausted its retries.
// The session is considered dead once one of these surfaces.
type ConnectionFailedError struct {
	Seq  uint32
	Kind protocol.MessageType
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection failed: message %s (seq %d) exhausted retries", e.Kind, e.Seq)
}

// pendingEntry tracks one unacknowledged outbound message.
type pendingEntry struct {
	payload     []byte
	dest        *net.UDPAddr
	sentAt      time.Time
	retriesLeft int
	kind        protocol.MessageType
}

// seenWindow is a bounded FIFO set of sequence numbers from one sender.
type seenWindow struct {
	order []uint32
	set   map[uint32]struct{}
}

func newSeenWindow() *seenWindow {
	return &seenWindow{set: make(map[uint32]struct{}, SeenWindowSize)}
}

func (w *seenWindow) contains(seq uint32) bool {
	_, ok := w.set[seq]
	return ok
}

func (w *seenWindow) add(seq uint32) {
	if len(w.order) >= SeenWindowSize {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.set, oldest)
	}
	w.order = append(w.order, seq)
	w.set[seq] = struct{}{}
}

// Layer owns sequencing, the pending map, and the seen windows. One Layer
// serves one peer process regardless of how many destinations it talks to.
type Layer struct {
	mu      sync.Mutex
	nextSeq uint32
	pending map[uint32]*pendingEntry
	seen    map[string]*seenWindow

	send     SendFunc
	opts     Options
	failures chan ConnectionFailedError
	logger   zerolog.Logger
}

// New creates a reliability layer that transmits through send.
func New(send SendFunc, opts Options) *Layer {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultOptions().AckTimeout
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultOptions().Tick
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	return &Layer{
		pending:  make(map[uint32]*pendingEntry),
		seen:     make(map[string]*seenWindow),
		send:     send,
		opts:     opts,
		failures: make(chan ConnectionFailedError, 8),
		logger:   util.ComponentLogger("reliability"),
	}
}

// Send assigns the next sequence number to the message, encodes it,
// records it as pending, and transmits it. It returns the assigned
// sequence number.
func (l *Layer) Send(m *protocol.Message, dest *net.UDPAddr) (uint32, error) {
	l.mu.Lock()
	l.nextSeq++
	seq := l.nextSeq
	l.mu.Unlock()

	m.Seq = seq
	payload, err := protocol.Encode(m)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", m.Type, err)
	}

	l.mu.Lock()
	l.pending[seq] = &pendingEntry{
		payload:     payload,
		dest:        dest,
		sentAt:      time.Now(),
		retriesLeft: l.opts.MaxRetries,
		kind:        m.Type,
	}
	l.mu.Unlock()

	if err := l.send(payload, dest); err != nil {
		// The entry stays pending; the sweep retries it.
		l.logger.Warn().Err(err).Uint32("seq", seq).Str("kind", string(m.Type)).Msg("initial transmit failed")
	}

	l.logger.Debug().
		Uint32("seq", seq).
		Str("kind", string(m.Type)).
		Str("dest", dest.String()).
		Int("size", len(payload)).
		Msg("sent")

	return seq, nil
}

// SendAck transmits an ACK for seq to dest. ACKs are fire-and-forget:
// they carry no sequence number and are never tracked or retried.
func (l *Layer) SendAck(seq uint32, dest *net.UDPAddr) {
	payload, err := protocol.Encode(protocol.NewAck(seq))
	if err != nil {
		return
	}
	if err := l.send(payload, dest); err != nil {
		l.logger.Debug().Err(err).Uint32("ack", seq).Msg("failed to send ack")
	}
}

// HandleAck removes the acknowledged entry from the pending map.
// Unknown ACKs are ignored.
func (l *Layer) HandleAck(seq uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[seq]; ok {
		delete(l.pending, seq)
		l.logger.Debug().Uint32("seq", seq).Msg("acked")
	}
}

// MarkSeen records (sender, seq) in the duplicate window and reports
// whether it was already present. Duplicates are acknowledged again by
// the caller but never delivered upward.
func (l *Layer) MarkSeen(sender string, seq uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.seen[sender]
	if !ok {
		w = newSeenWindow()
		l.seen[sender] = w
	}
	if w.contains(seq) {
		return true
	}
	w.add(seq)
	return false
}

// Sweep retransmits every pending entry whose ACK deadline has passed and
// removes entries that are out of retries, returning those as failures.
// The retransmit ticker calls this; tests call it directly with a
// synthetic clock.
func (l *Layer) Sweep(now time.Time) []ConnectionFailedError {
	type resend struct {
		payload []byte
		dest    *net.UDPAddr
		seq     uint32
	}

	var resends []resend
	var failed []ConnectionFailedError

	l.mu.Lock()
	for seq, entry := range l.pending {
		if now.Sub(entry.sentAt) < l.opts.AckTimeout {
			continue
		}
		if entry.retriesLeft <= 0 {
			delete(l.pending, seq)
			failed = append(failed, ConnectionFailedError{Seq: seq, Kind: entry.kind})
			continue
		}
		entry.retriesLeft--
		entry.sentAt = now
		resends = append(resends, resend{payload: entry.payload, dest: entry.dest, seq: seq})
	}
	l.mu.Unlock()

	// Transmit outside the lock.
	for _, r := range resends {
		l.logger.Debug().Uint32("seq", r.seq).Msg("retransmitting")
		if err := l.send(r.payload, r.dest); err != nil {
			l.logger.Warn().Err(err).Uint32("seq", r.seq).Msg("retransmit failed")
		}
	}

	for _, f := range failed {
		l.logger.Error().Uint32("seq", f.Seq).Str("kind", string(f.Kind)).Msg("message exhausted retries")
	}

	return failed
}

// Run drives the retransmit ticker until the context is cancelled.
// Failures surface on the Failures channel.
func (l *Layer) Run(ctx context.Context) {
	ticker := time.NewTicker(l.opts.Tick)
	defer ticker.Stop()

	l.logger.Info().
		Dur("tick", l.opts.Tick).
		Dur("ack_timeout", l.opts.AckTimeout).
		Int("max_retries", l.opts.MaxRetries).
		Msg("retransmit loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("retransmit loop stopped")
			return
		case now := <-ticker.C:
			for _, f := range l.Sweep(now) {
				select {
				case l.failures <- f:
				default:
					// A failure is already fatal; dropping extras is harmless.
				}
			}
		}
	}
}

// Failures returns the channel on which exhausted messages surface.
func (l *Layer) Failures() <-chan ConnectionFailedError {
	return l.failures
}

// PendingCount returns the number of unacknowledged outbound messages.
func (l *Layer) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
