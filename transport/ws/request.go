package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/layer-3/parlor/core"
)

// Default deadlines for request/response exchanges over the transport.
const (
	QueryTimeout    = 10 * time.Second
	PurchaseTimeout = 30 * time.Second
)

// Request describes one correlated request/response exchange.
type Request struct {
	Event         string        // Outbound channel name
	ResponseEvent string        // Channel the success response arrives on
	ErrorEvent    string        // Optional channel for business-rule failures
	Payload       any           // Must marshal to a JSON object
	Timeout       time.Duration // Defaults to QueryTimeout
}

// correlated is the fragment every request and response payload carries.
type correlated struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error,omitempty"`
}

type pendingCall struct {
	ch chan result
}

type result struct {
	data json.RawMessage
	err  error
}

// Requester layers request/response semantics onto the pub/sub transport.
// Every outbound request carries a generated correlation ID; the matching
// response resolves it. Two concurrent calls on the same channel can never
// collide because they wait on distinct IDs.
type Requester struct {
	t *Transport

	mu      sync.Mutex
	pending map[string]*pendingCall
	routed  map[string]struct{} // response events already subscribed
}

// NewRequester creates a Requester bound to the transport.
func NewRequester(t *Transport) *Requester {
	return &Requester{
		t:       t,
		pending: make(map[string]*pendingCall),
		routed:  make(map[string]struct{}),
	}
}

// Do publishes the request and waits for the correlated response.
// On deadline the pending call is dropped and core.ErrRequestTimeout is
// returned; a response arriving later is ignored silently. The transport
// itself stays open regardless of the outcome.
func (r *Requester) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Timeout <= 0 {
		req.Timeout = QueryTimeout
	}

	payload, err := withRequestID(req.Payload)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	payload["requestId"] = id

	call := &pendingCall{ch: make(chan result, 1)}

	r.mu.Lock()
	r.ensureRouteLocked(req.ResponseEvent, false)
	if req.ErrorEvent != "" {
		r.ensureRouteLocked(req.ErrorEvent, true)
	}
	r.pending[id] = call
	r.mu.Unlock()

	r.t.Publish(req.Event, payload)

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case res := <-call.ch:
		return res.data, res.err
	case <-timer.C:
		r.drop(id)
		return nil, core.ErrRequestTimeout
	case <-ctx.Done():
		r.drop(id)
		return nil, ctx.Err()
	}
}

// ensureRouteLocked subscribes once per response channel and keeps the
// subscription for the lifetime of the requester. Callers hold r.mu.
func (r *Requester) ensureRouteLocked(event string, isError bool) {
	if _, ok := r.routed[event]; ok {
		return
	}
	r.routed[event] = struct{}{}

	r.t.Subscribe(event, func(data json.RawMessage) {
		var c correlated
		if err := json.Unmarshal(data, &c); err != nil || c.RequestID == "" {
			return
		}

		r.mu.Lock()
		call, ok := r.pending[c.RequestID]
		if ok {
			delete(r.pending, c.RequestID)
		}
		r.mu.Unlock()
		if !ok {
			// Late or foreign response: drop silently.
			return
		}

		if isError || c.Error != "" {
			msg := c.Error
			if msg == "" {
				msg = "request rejected"
			}
			call.ch <- result{err: errors.New(msg)}
			return
		}
		call.ch <- result{data: data}
	})
}

func (r *Requester) drop(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// withRequestID converts an arbitrary payload into a mutable JSON object so
// the correlation ID can be injected.
func withRequestID(payload any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	obj := make(map[string]any)
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.New("request payload must be a JSON object")
	}
	return obj, nil
}
