package capnpcore

import "github.com/cloudflare/capnpcore/exc"

// ClientHook is the capability table's extension point: an RPC system (or
// a test double) implements it to give a capability pointer somewhere to
// go. The wire-format engine only needs to carry the table slot; it never
// calls through a ClientHook itself.
type ClientHook interface {
	// String returns a short description used in diagnostics.
	String() string
}

// Client is an opaque handle to a capability, good for comparison and for
// indexing into a Message's CapTable. The zero Client is a "null"
// capability: every call against it fails.
type Client struct {
	hook ClientHook
}

// NewClient wraps hook as a Client.
func NewClient(hook ClientHook) Client {
	return Client{hook: hook}
}

// IsValid reports whether c refers to a non-null capability.
func (c Client) IsValid() bool {
	return c.hook != nil
}

// String returns the underlying hook's description, or "<null capability>".
func (c Client) String() string {
	if c.hook == nil {
		return "<null capability>"
	}
	return c.hook.String()
}

// CapTable is the per-Message table of capability clients that interface
// pointers index into. Populated and consumed by whatever RPC layer sits
// above this engine; the engine itself only allocates and dereferences
// slots.
type CapTable struct {
	clients []Client
}

func (t *CapTable) reset() {
	t.clients = t.clients[:0]
}

// add appends c to the table and returns its index.
func (t *CapTable) add(c Client) uint32 {
	t.clients = append(t.clients, c)
	return uint32(len(t.clients) - 1)
}

// Get returns the client at index i, or the zero Client if i is out of
// range.
func (t *CapTable) Get(i uint32) Client {
	if int(i) >= len(t.clients) {
		return Client{}
	}
	return t.clients[i]
}

// Len returns the number of clients in the table.
func (t *CapTable) Len() int {
	return len(t.clients)
}

// Interface is a capability pointer: an index into its Message's CapTable,
// carried on the wire as an "other" pointer with subtype 0.
type Interface struct {
	seg *Segment
	cap uint32
}

// NewInterface wraps the capTable entry at index cap as an Interface
// living in seg's message.
func NewInterface(seg *Segment, cap uint32) Interface {
	return Interface{seg: seg, cap: cap}
}

// IsValid reports whether i refers to an actual capability pointer.
func (i Interface) IsValid() bool {
	return i.seg != nil
}

// Capability returns i's index into its message's CapTable.
func (i Interface) Capability() uint32 {
	return i.cap
}

// Client resolves i against its message's CapTable.
func (i Interface) Client() Client {
	if i.seg == nil {
		return Client{}
	}
	return i.seg.msg.CapTable().Get(i.cap)
}

// ToPtr wraps i as a Ptr.
func (i Interface) ToPtr() Ptr {
	if !i.IsValid() {
		return Ptr{}
	}
	return Ptr{kind: ptrInterface, iface: i}
}

// NewCapability allocates a new interface pointer in seg's message
// referencing client, registering it in the message's CapTable.
func NewCapability(seg *Segment, client Client) (Ptr, error) {
	if seg == nil || seg.msg == nil {
		return Ptr{}, exc.Failed("capability requires an attached segment")
	}
	idx := seg.msg.CapTable().add(client)
	return NewInterface(seg, idx).ToPtr(), nil
}
