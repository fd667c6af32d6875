// Package channel defines the transport boundary: the Channel capability
// every messaging adapter implements (start/send/send_typing/send_photo/
// stop), and the inbound message shape the gateway receives from
// Start()'s stream. Concrete transport behavior lives in the adapter
// sub-packages.
package channel

import "context"

// Attachment is one inbound file, already staged to local disk by the
// channel adapter (images go through internal/identity.Inbox upstream of
// the gateway, but a channel may also receive documents/audio it passes
// through verbatim).
type Attachment struct {
	Path     string
	MimeType string
}

// Incoming is the standardized shape of an inbound message field set.
type Incoming struct {
	ID          string
	Channel     string
	SenderID    string
	SenderName  string
	Text        string
	TimestampMs int64
	ReplyTo     string
	Attachments []Attachment
	ReplyTarget string
	IsGroup     bool
}

// Outgoing is what the gateway hands to Send.
type Outgoing struct {
	Text        string
	Metadata    map[string]string
	ReplyTarget string
}

// Channel is the transport interface every messaging adapter implements.
type Channel interface {
	// Start begins receiving messages, delivering each to handler until
	// ctx is cancelled or Stop is called.
	Start(ctx context.Context, handler func(Incoming)) error
	Send(target string, msg Outgoing) error
	SendTyping(target string) error
	SendPhoto(target string, data []byte, filename string) error
	Stop() error
}

// Registry is a name-keyed Channel map, holding constructed instances
// rather than factories, since channels are configured once at startup
// from [channel.<name>].
type Registry struct {
	channels map[string]Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

func (r *Registry) Register(name string, c Channel) {
	r.channels[name] = c
}

func (r *Registry) Get(name string) (Channel, bool) {
	c, ok := r.channels[name]
	return c, ok
}

func (r *Registry) All() map[string]Channel {
	return r.channels
}
