package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Kind distinguishes which side of a session a Connection represents.
type Kind string

const (
	KindAgent      Kind = "agent"
	KindTechnician Kind = "technician"
)

// Connection is one registered agent or technician websocket, with a
// priority-tiered outbound queue. Grounded on the teacher's
// internal/websocket/client.go read/write pump split and on
// n0remac-robot-webrtc's per-client Send channel, generalized to four
// priority tiers instead of one.
type Connection struct {
	ID   string
	Kind Kind

	conn   *websocket.Conn
	connMu sync.Mutex

	queues  [numPriorities]chan Message
	done    chan struct{}
	closeOnce sync.Once

	LastActivity time.Time
	mu           sync.Mutex
}

func NewConnection(id string, kind Kind, conn *websocket.Conn) *Connection {
	c := &Connection{
		ID:           id,
		Kind:         kind,
		conn:         conn,
		done:         make(chan struct{}),
		LastActivity: time.Now(),
	}
	for p := 0; p < numPriorities; p++ {
		c.queues[p] = make(chan Message, tierLimits[p])
	}
	return c
}

// Enqueue places a message on its priority's outbound queue. Low-priority
// messages are dropped when the queue is full; Normal/High/Critical block
// the caller until space frees up or the connection closes (§4.8
// Backpressure).
func (c *Connection) Enqueue(msg Message) (delivered bool) {
	q := c.queues[msg.Priority]

	if msg.Priority == PriorityLow {
		select {
		case q <- msg:
			return true
		case <-c.done:
			return false
		default:
			return false // drop: queue full
		}
	}

	select {
	case q <- msg:
		return true
	case <-c.done:
		return false
	}
}

// nextMessage pulls the highest-priority ready message without blocking, or
// reports none ready. Priority order is enforced by checking tiers in order
// rather than relying on Go's random `select` case selection.
func (c *Connection) nextMessage() (Message, bool) {
	for p := 0; p < numPriorities; p++ {
		select {
		case m := <-c.queues[p]:
			return m, true
		default:
		}
	}
	return Message{}, false
}

// WritePump drains the priority queues onto the socket until Close is
// called or a write fails. It never sleeps inside the priority drain loop;
// it only blocks (via the select below) when every tier is empty.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		if msg, ok := c.nextMessage(); ok {
			if !c.write(msg) {
				return
			}
			continue
		}

		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.connMu.Unlock()
			if err != nil {
				return
			}
		case m := <-c.queues[PriorityCritical]:
			if !c.write(m) {
				return
			}
		case m := <-c.queues[PriorityHigh]:
			if !c.write(m) {
				return
			}
		case m := <-c.queues[PriorityNormal]:
			if !c.write(m) {
				return
			}
		case m := <-c.queues[PriorityLow]:
			if !c.write(m) {
				return
			}
		}
	}
}

func (c *Connection) write(m Message) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	mt := websocket.TextMessage
	if m.Binary {
		mt = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(mt, m.Payload) == nil
}

// ReadPump reads inbound frames and hands them to handle until the
// connection closes. handle is expected to be fast or to offload work to a
// worker pool; ReadPump does not do so itself.
func (c *Connection) ReadPump(handle func(messageType int, data []byte)) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		handle(mt, data)
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.LastActivity = time.Now()
	c.mu.Unlock()
}

// Close tears down the connection and unblocks any goroutine waiting on a
// blocking Enqueue.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		c.conn.Close()
		c.connMu.Unlock()
	})
}
