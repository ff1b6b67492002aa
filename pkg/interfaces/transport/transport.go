package transport

// Event is one outbound wire message: an event name plus its payload.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Connection is an opaque handle to one live client session. The registry
// and router only need an identity and a way to push events; the WebSocket
// binding (or a test double) provides the rest.
type Connection interface {
	ID() string
	Send(event Event) error
}

// Nop is a connection that discards every event. Useful as a placeholder
// when a workflow outlives its originating session.
type Nop struct {
	ConnID string
}

var _ Connection = (*Nop)(nil)

func (n *Nop) ID() string             { return n.ConnID }
func (n *Nop) Send(event Event) error { return nil }
