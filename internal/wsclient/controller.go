package wsclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Status is the controller's connection lifecycle, published on Statuses().
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusAuthRejected Status = "auth_rejected"
	StatusClosed       Status = "closed"
)

// DefaultBackoff is the reconnect ladder. The last step repeats until the
// connection comes back or Close is called.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

const defaultQueueCap = 64

// IntentKind is the last-known intent replayed after a reconnect.
type IntentKind int

const (
	IntentIdle IntentKind = iota
	IntentSearching
	IntentInSession
)

// Intent records what the player was doing; it is set explicitly by the
// caller, never inferred from traffic.
type Intent struct {
	Kind      IntentKind
	Wager     float64
	PlayerIDs []int
	SessionID string
}

// Controller owns one client connection as an actor: a single goroutine
// holds the conn, all interaction goes through its mailbox. An unexpected
// close triggers reconnects on the backoff ladder; an auth-family close
// (44xx) clears the token and stops reconnecting for good.
type Controller struct {
	url      string
	dialer   *websocket.Dialer
	backoff  []time.Duration
	queueCap int

	messages chan []byte
	statuses chan Status
	logs     chan string

	cmds chan command
	done chan struct{}
}

type command struct {
	kind     cmdKind
	data     []byte
	intent   Intent
	replyInt chan int
	replyErr chan error
}

type cmdKind int

const (
	cmdSend cmdKind = iota
	cmdSetIntent
	cmdQueueLen
	cmdClose
)

// Option configures a Controller.
type Option func(*Controller)

// WithBackoff replaces the reconnect ladder.
func WithBackoff(ladder []time.Duration) Option {
	return func(c *Controller) { c.backoff = ladder }
}

// WithQueueCapacity bounds the while-disconnected outbound queue.
func WithQueueCapacity(n int) Option {
	return func(c *Controller) { c.queueCap = n }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Controller) { c.dialer = d }
}

// New creates a controller for url authenticating with token, and starts its
// actor. The token travels as a query parameter because browsers and most
// websocket clients cannot set headers on the upgrade.
func New(url, token string, opts ...Option) *Controller {
	c := &Controller{
		url:      url,
		dialer:   websocket.DefaultDialer,
		backoff:  DefaultBackoff,
		queueCap: defaultQueueCap,
		messages: make(chan []byte, 64),
		statuses: make(chan Status, 16),
		logs:     make(chan string, 64),
		cmds:     make(chan command, 16),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run(token)
	return c
}

// Messages delivers inbound frames plus locally synthesized signals.
func (c *Controller) Messages() <-chan []byte { return c.messages }

// Statuses delivers lifecycle transitions.
func (c *Controller) Statuses() <-chan Status { return c.statuses }

// Logs delivers human-readable progress lines.
func (c *Controller) Logs() <-chan string { return c.logs }

// Send queues one message for delivery. While connected it goes straight
// out; while disconnected it waits in the bounded queue, dropping the oldest
// unsent messages beyond capacity.
func (c *Controller) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// The mailbox is buffered, so an enqueue can still win a race against
	// shutdown; only the actor's acknowledgement proves the message was
	// accepted. No ack before done closes means the actor is gone.
	reply := make(chan error, 1)
	select {
	case c.cmds <- command{kind: cmdSend, data: data, replyErr: reply}:
		select {
		case err := <-reply:
			return err
		case <-c.done:
			// The actor acks every command it dequeues before it can shut
			// down, so an empty reply here means the command never ran.
			select {
			case err := <-reply:
				return err
			default:
				return ErrClosed
			}
		}
	case <-c.done:
		return ErrClosed
	}
}

// SetIntent records the intent replayed after the next reconnect.
func (c *Controller) SetIntent(intent Intent) {
	select {
	case c.cmds <- command{kind: cmdSetIntent, intent: intent}:
	case <-c.done:
	}
}

// QueueLen reports how many outbound messages wait for a connection.
func (c *Controller) QueueLen() int {
	reply := make(chan int, 1)
	select {
	case c.cmds <- command{kind: cmdQueueLen, replyInt: reply}:
		select {
		case n := <-reply:
			return n
		case <-c.done:
			select {
			case n := <-reply:
				return n
			default:
				return 0
			}
		}
	case <-c.done:
		return 0
	}
}

// Close stops the actor, cancelling any pending reconnect.
func (c *Controller) Close() {
	select {
	case c.cmds <- command{kind: cmdClose}:
	case <-c.done:
	}
}

var ErrClosed = fmt.Errorf("controller is closed")
