package capnpcore

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cloudflare/capnpcore/exc"
	"github.com/cloudflare/capnpcore/internal/str"
)

// Security limits, matching the C++ reference implementation's defaults.
const (
	defaultTraverseLimit = 8 * 1024 * 1024 // 8 Mi words = 64 MiB
	defaultDepthLimit    = 64

	// maxStreamSegments is the largest segment count the framed decoder
	// will accept.
	maxStreamSegments = 511
)

const maxDepth = ^uint(0)

// ReaderOptions bounds the work a Message will do while decoding
// adversarial input.
type ReaderOptions struct {
	// TraversalLimitInWords bounds the total words traversed while
	// reading. Zero means defaultTraverseLimit.
	TraversalLimitInWords uint64
	// NestingLimit bounds pointer-dereference depth. Zero means
	// defaultDepthLimit.
	NestingLimit int32
	// FailFast, if true, makes decoding resolve the root pointer eagerly,
	// so a bad root is reported by the decode call itself rather than
	// deferred to the first Root call. Segment-table errors are always
	// reported at decode time, with or without it.
	FailFast bool
}

func (o ReaderOptions) traversalLimit() uint64 {
	if o.TraversalLimitInWords == 0 {
		return defaultTraverseLimit
	}
	return o.TraversalLimitInWords
}

func (o ReaderOptions) nestingLimit() uint {
	if o.NestingLimit == 0 {
		return defaultDepthLimit
	}
	return uint(o.NestingLimit)
}

// A Message is a tree of Cap'n Proto objects split across one or more
// segments of an Arena. It is safe to read from multiple goroutines; it is
// not safe to build from multiple goroutines without external
// synchronization (allocation mutates the arena).
type Message struct {
	// rlimit must stay 64-bit aligned; see sync/atomic's alignment note,
	// which is why it is declared first.
	rlimit     atomic.Uint64
	rlimitInit sync.Once

	Arena Arena

	capTable CapTable

	TraverseLimit uint64
	DepthLimit    uint

	opts ReaderOptions
}

// NewMessage creates a message with a new root over arena and returns the
// first segment. It is an error to call NewMessage on an arena that
// already has data in it.
func NewMessage(arena Arena) (*Message, *Segment, error) {
	var msg Message
	first, err := msg.Reset(arena)
	return &msg, first, err
}

// Reset reconfigures m to use a different, empty arena, allowing it to be
// reused. Any existing pointers obtained from m become invalid.
func (m *Message) Reset(arena Arena) (first *Segment, err error) {
	m.capTable.reset()
	if m.Arena != nil {
		m.Arena.Release()
	}
	*m = Message{
		Arena:         arena,
		TraverseLimit: m.TraverseLimit,
		DepthLimit:    m.DepthLimit,
		capTable:      m.capTable,
	}
	if arena.NumSegments() > 1 {
		return nil, errors.New("capnp: arena already has multiple segments allocated")
	}
	first = m.Arena.Segment(0)
	if first != nil {
		if len(first.data) != 0 {
			return nil, errors.New("capnp: arena not empty")
		}
		first.msg = m
	}
	if first == nil || len(first.data) < int(wordSize) {
		first, _, err = m.Arena.Allocate(wordSize, m, first)
		if err != nil {
			return nil, errors.Wrap(err, "capnp: reset")
		}
	}
	return first, nil
}

// NewDecodedMessage wraps a ReaderArena (already populated from decoded
// segment data) as a Message ready for typed access, applying opts.
func NewDecodedMessage(arena *ReaderArena, opts ReaderOptions) *Message {
	m := &Message{Arena: arena, opts: opts}
	arena.attach(m)
	return m
}

func (m *Message) initReadLimit() {
	if m.TraverseLimit != 0 {
		m.rlimit.Store(m.TraverseLimit)
		return
	}
	m.rlimit.Store(m.opts.traversalLimit())
}

// canRead reports whether an object spanning sz more bytes may be visited
// without exceeding the traversal limit, and if so, debits its word count.
func (m *Message) canRead(sz Size) bool {
	m.rlimitInit.Do(m.initReadLimit)
	words := uint64(sz.padToWord() / wordSize)
	for {
		curr := m.rlimit.Load()
		if words > curr {
			return false
		}
		if m.rlimit.CompareAndSwap(curr, curr-words) {
			return true
		}
	}
}

// ResetReadLimit sets the number of words still allowed to be traversed in
// this message, without needing to reallocate a new Message between
// decodes of unrelated input.
func (m *Message) ResetReadLimit(limit uint64) {
	m.rlimitInit.Do(func() {})
	m.rlimit.Store(limit)
}

// Unread credits sz bytes' worth of words back to the traversal-limit
// budget, for callers that deliberately revisit the same sub-object more
// than once and do not want that to count twice against the limit.
func (m *Message) Unread(sz Size) {
	m.rlimitInit.Do(m.initReadLimit)
	m.rlimit.Add(uint64(sz.padToWord() / wordSize))
}

func (m *Message) depthLimit() uint {
	if m.DepthLimit != 0 {
		return m.DepthLimit
	}
	return m.opts.nestingLimit()
}

// NumSegments returns the number of segments in the message.
func (m *Message) NumSegments() int64 {
	return m.Arena.NumSegments()
}

// Segment returns the segment with the given id, associating it with m if
// it has not been associated with any message yet.
func (m *Message) Segment(id SegmentID) (*Segment, error) {
	seg := m.Arena.Segment(id)
	if seg == nil {
		return nil, errors.Errorf("capnp: segment %s: out of bounds", str.Utod(id))
	}
	if seg.msg == nil {
		seg.msg = m
	}
	if seg.msg != m {
		return nil, errors.Errorf("capnp: segment %s: associated with a different message", str.Utod(id))
	}
	return seg, nil
}

// Root returns the message's root pointer.
func (m *Message) Root() (Ptr, error) {
	s, err := m.Segment(0)
	if err != nil {
		return Ptr{}, exc.WrapError("root", err)
	}
	root, ok := s.root()
	if !ok {
		return Ptr{}, exc.Failed("root is not allocated")
	}
	p, err := root.At(0)
	if err != nil {
		return Ptr{}, exc.WrapError("root", err)
	}
	return p, nil
}

// SetRoot sets the message's root object to p.
func (m *Message) SetRoot(p Ptr) error {
	s, err := m.Segment(0)
	if err != nil {
		return exc.WrapError("set root", err)
	}
	root, ok := s.root()
	if !ok {
		if _, _, err := m.alloc(wordSize, nil); err != nil {
			return exc.WrapError("set root", err)
		}
		root, ok = s.root()
		if !ok {
			return exc.Failed("unable to allocate root pointer")
		}
	}
	if err := root.Set(0, p); err != nil {
		return exc.WrapError("set root", err)
	}
	return nil
}

// CapTable is the indexed list of capability clients referenced by the
// message. It is populated by an external RPC system; the core only owns
// the slot.
func (m *Message) CapTable() *CapTable {
	return &m.capTable
}

// TotalSize returns the number of bytes the message would occupy when
// framed for a stream, i.e. len(m.Marshal()).
func (m *Message) TotalSize() (uint64, error) {
	nsegs := uint64(m.NumSegments())
	total := streamHeaderSize(SegmentID(nsegs - 1))
	for i := uint64(0); i < nsegs; i++ {
		seg, err := m.Segment(SegmentID(i))
		if err != nil {
			return 0, err
		}
		total += uint64(len(seg.Data()))
	}
	return total, nil
}

func (m *Message) alloc(sz Size, pref *Segment) (*Segment, Address, error) {
	if sz > maxAllocSize() {
		return nil, 0, exc.Failed("allocation too large")
	}
	sz = sz.padToWord()
	seg, addr, err := m.Arena.Allocate(sz, m, pref)
	if err != nil {
		return nil, 0, err
	}
	if seg == nil {
		return nil, 0, exc.Failed("arena returned a nil segment")
	}
	seg.msg = m
	return seg, addr, nil
}

// alloc allocates sz zero-filled, word-padded bytes, preferring s but
// falling back to another segment in the same message if s has no room.
func alloc(s *Segment, sz Size) (*Segment, Address, error) {
	return s.msg.alloc(sz, s)
}
