package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/kinloop/kinloop/internal/logging"
)

// frame is the JSON message exchanged with a relay endpoint.
type frame struct {
	Type   string  `json:"type"`
	Sub    string  `json:"sub,omitempty"`
	Filter *Filter `json:"filter,omitempty"`
	Event  *Event  `json:"event,omitempty"`
}

const (
	framePublish     = "publish"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameEvent       = "event"
)

// Client is a websocket-backed Network. It keeps one connection per endpoint
// URL; endpoints that cannot be dialed are skipped (the relay set is
// best-effort, no single relay is required to be reachable).
type Client struct {
	log logging.Logger

	mu    sync.Mutex
	conns map[string]*endpointConn
	subs  map[string]*clientSub

	writeTimeout time.Duration
}

type endpointConn struct {
	url     string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

type clientSub struct {
	ch   chan Event
	seen map[string]struct{}
}

// Dial connects to every reachable endpoint and starts its reader. Each dial
// is retried with capped fibonacci backoff before the endpoint is given up.
func Dial(ctx context.Context, urls []string, log logging.Logger) (*Client, error) {
	c := &Client{
		log:          log,
		conns:        make(map[string]*endpointConn),
		subs:         make(map[string]*clientSub),
		writeTimeout: 5 * time.Second,
	}

	for _, url := range urls {
		var ws *websocket.Conn
		backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				return retry.RetryableError(err)
			}
			ws = conn
			return nil
		})
		if err != nil {
			log.Warn(ctx, "relay endpoint unreachable", "url", url, "error", err)
			continue
		}
		ec := &endpointConn{url: url, ws: ws}
		c.conns[url] = ec
		go c.readLoop(ec)
	}

	if len(c.conns) == 0 {
		return nil, ErrNoEndpoints
	}
	return c, nil
}

func (c *Client) readLoop(ec *endpointConn) {
	for {
		var f frame
		if err := ec.ws.ReadJSON(&f); err != nil {
			c.mu.Lock()
			delete(c.conns, ec.url)
			c.mu.Unlock()
			c.log.Warn(context.Background(), "relay connection closed", "url", ec.url, "error", err)
			return
		}
		if f.Type != frameEvent || f.Event == nil {
			continue
		}
		c.dispatch(f.Sub, *f.Event)
	}
}

// dispatch hands an inbound event to its subscription, dropping duplicates
// of the same event id received from different endpoints.
func (c *Client) dispatch(subID string, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[subID]
	if !ok {
		return
	}
	if _, dup := sub.seen[ev.ID]; dup {
		return
	}
	sub.seen[ev.ID] = struct{}{}
	select {
	case sub.ch <- ev:
	default:
	}
}

func (c *Client) ConnectedEndpoints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.conns))
	for url := range c.conns {
		out = append(out, url)
	}
	return out
}

// target resolves the endpoint set for an operation: the explicit list if
// given, otherwise every connected endpoint.
func (c *Client) target(endpoints []string) []*endpointConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*endpointConn
	if len(endpoints) == 0 {
		for _, ec := range c.conns {
			out = append(out, ec)
		}
		return out
	}
	for _, url := range endpoints {
		if ec, ok := c.conns[url]; ok {
			out = append(out, ec)
		}
	}
	return out
}

func (ec *endpointConn) writeFrame(f frame, timeout time.Duration) error {
	ec.writeMu.Lock()
	defer ec.writeMu.Unlock()
	_ = ec.ws.SetWriteDeadline(time.Now().Add(timeout))
	return ec.ws.WriteJSON(f)
}

// Publish sends the event to every targeted endpoint concurrently. A failure
// on any endpoint fails the whole publish; partial delivery is not success.
func (c *Client) Publish(ctx context.Context, ev Event, endpoints []string) error {
	targets := c.target(endpoints)
	if len(targets) == 0 {
		return ErrNoEndpoints
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ec := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// The write deadline never outlives the caller's deadline.
			timeout := c.writeTimeout
			if deadline, ok := gctx.Deadline(); ok {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return context.DeadlineExceeded
				}
				if remaining < timeout {
					timeout = remaining
				}
			}
			if err := ec.writeFrame(frame{Type: framePublish, Event: &ev}, timeout); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrPublishFailed, ec.url, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Client) Subscribe(ctx context.Context, id string, filter Filter, endpoints []string) (<-chan Event, error) {
	c.mu.Lock()
	if _, ok := c.subs[id]; ok {
		c.mu.Unlock()
		return nil, ErrDuplicateSubscription
	}
	sub := &clientSub{ch: make(chan Event, 64), seen: make(map[string]struct{})}
	c.subs[id] = sub
	c.mu.Unlock()

	targets := c.target(endpoints)
	if len(targets) == 0 {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, ErrNoEndpoints
	}
	for _, ec := range targets {
		if err := ec.writeFrame(frame{Type: frameSubscribe, Sub: id, Filter: &filter}, c.writeTimeout); err != nil {
			c.log.Warn(ctx, "subscribe failed on endpoint", "url", ec.url, "error", err)
		}
	}
	return sub.ch, nil
}

func (c *Client) Unsubscribe(id string, endpoints []string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	for _, ec := range c.target(endpoints) {
		if err := ec.writeFrame(frame{Type: frameUnsubscribe, Sub: id}, c.writeTimeout); err != nil {
			c.log.Warn(context.Background(), "unsubscribe failed on endpoint", "url", ec.url, "error", err)
		}
	}
	close(sub.ch)
}

// Close tears down every connection and open subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ec := range c.conns {
		_ = ec.ws.Close()
	}
	c.conns = make(map[string]*endpointConn)
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	return nil
}
