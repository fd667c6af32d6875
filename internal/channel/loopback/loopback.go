// Package loopback implements a local WebSocket channel, used for manual
// testing and as the transport behind the optional HTTP API surface.
package loopback

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"omega/internal/channel"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// safeConn serializes writes to one connection, since gorilla/websocket
// forbids concurrent writers on the same *Conn.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (s *safeConn) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WriteJSON(v)
}

// Channel is a loopback/administrative WebSocket channel: one listener,
// many connections, each keyed by a per-connection sender id.
type Channel struct {
	addr     string
	server   *http.Server
	mu       sync.RWMutex
	conns    map[string]*safeConn
}

func New(addr string) *Channel {
	return &Channel{addr: addr, conns: make(map[string]*safeConn)}
}

type wireIn struct {
	Text string `json:"text"`
}

type wireOut struct {
	Type string `json:"type"` // "message" | "typing" | "photo"
	Text string `json:"text,omitempty"`
	Data []byte `json:"data,omitempty"`
	Name string `json:"name,omitempty"`
}

func (c *Channel) Start(ctx context.Context, handler func(channel.Incoming)) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		senderID := uuid.NewString()
		sc := &safeConn{Conn: conn}
		c.mu.Lock()
		c.conns[senderID] = sc
		c.mu.Unlock()

		go func() {
			defer func() {
				c.mu.Lock()
				delete(c.conns, senderID)
				c.mu.Unlock()
				conn.Close()
			}()
			for {
				var in wireIn
				if err := conn.ReadJSON(&in); err != nil {
					return
				}
				handler(channel.Incoming{
					ID:          uuid.NewString(),
					Channel:     "loopback",
					SenderID:    senderID,
					Text:        in.Text,
					ReplyTarget: senderID,
				})
			}
		}()
	})

	c.server = &http.Server{Addr: c.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		c.server.Close()
	}()
	go c.server.ListenAndServe()
	return nil
}

func (c *Channel) conn(target string) (*safeConn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sc, ok := c.conns[target]
	if !ok {
		return nil, fmt.Errorf("loopback: no connection for target %q", target)
	}
	return sc, nil
}

func (c *Channel) Send(target string, msg channel.Outgoing) error {
	sc, err := c.conn(target)
	if err != nil {
		return err
	}
	return sc.writeJSON(wireOut{Type: "message", Text: msg.Text})
}

func (c *Channel) SendTyping(target string) error {
	sc, err := c.conn(target)
	if err != nil {
		return err
	}
	return sc.writeJSON(wireOut{Type: "typing"})
}

func (c *Channel) SendPhoto(target string, data []byte, filename string) error {
	sc, err := c.conn(target)
	if err != nil {
		return err
	}
	return sc.writeJSON(wireOut{Type: "photo", Data: data, Name: filename})
}

func (c *Channel) Stop() error {
	if c.server == nil {
		return nil
	}
	return c.server.Close()
}
