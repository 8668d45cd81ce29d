package ws_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/layer-3/parlor/core"
	"github.com/layer-3/parlor/transport/ws"
)

// lastRequestID extracts the correlation ID from the most recent outbound
// frame on the given channel.
func lastRequestID(tb testing.TB, conn *fakeConn, event string) string {
	tb.Helper()

	var id string
	require.Eventually(tb, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		for i := len(conn.writes) - 1; i >= 0; i-- {
			var env ws.Envelope
			if json.Unmarshal(conn.writes[i], &env) != nil || env.Event != event {
				continue
			}
			var payload struct {
				RequestID string `json:"requestId"`
			}
			if json.Unmarshal(env.Data, &payload) == nil && payload.RequestID != "" {
				id = payload.RequestID
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond, "no %s request was sent", event)
	return id
}

func openTransport(t *testing.T) (*ws.Transport, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{}
	tr := newTransport(dialer, func() string { return "ws://test/ws" }, nil)
	tr.Open(context.Background())
	waitState(t, tr, ws.StateOpen)
	return tr, dialer
}

func TestRequestFromConnectedHandlerSeesReply(t *testing.T) {
	dialer := &fakeDialer{}
	tr := newTransport(dialer, func() string { return "ws://test/ws" }, nil)
	req := ws.NewRequester(tr)

	// Inbound frames must already be flowing when connected fires, or this
	// request could never resolve.
	done := make(chan error, 1)
	tr.Subscribe(ws.EventConnected, func(json.RawMessage) {
		_, err := req.Do(context.Background(), ws.Request{
			Event:         "lottery:get_status",
			ResponseEvent: "lottery:status",
			Timeout:       2 * time.Second,
		})
		done <- err
	})

	go func() {
		var conn *fakeConn
		require.Eventually(t, func() bool {
			conn = dialer.lastConn()
			return conn != nil
		}, 2*time.Second, time.Millisecond)
		id := lastRequestID(t, conn, "lottery:get_status")
		conn.deliver(t, "lottery:status", map[string]any{"requestId": id, "machines": []any{}})
	}()

	tr.Open(context.Background())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("the request issued on connect never resolved")
	}
}

func TestRequesterCorrelatesResponse(t *testing.T) {
	tr, dialer := openTransport(t)
	req := ws.NewRequester(tr)
	conn := dialer.lastConn()

	go func() {
		id := lastRequestID(t, conn, "lottery:get_status")
		conn.deliver(t, "lottery:status", map[string]any{
			"requestId": id,
			"machines":  []map[string]any{{"machineId": "sol"}},
		})
	}()

	data, err := req.Do(context.Background(), ws.Request{
		Event:         "lottery:get_status",
		ResponseEvent: "lottery:status",
		Timeout:       2 * time.Second,
	})
	require.NoError(t, err)

	var resp struct {
		Machines []struct {
			MachineID string `json:"machineId"`
		} `json:"machines"`
	}
	require.NoError(t, json.Unmarshal(data, &resp))
	require.Len(t, resp.Machines, 1)
	require.Equal(t, "sol", resp.Machines[0].MachineID)
}

func TestRequesterIgnoresForeignCorrelationID(t *testing.T) {
	tr, dialer := openTransport(t)
	req := ws.NewRequester(tr)
	conn := dialer.lastConn()

	go func() {
		id := lastRequestID(t, conn, "lottery:get_status")
		// A response for someone else's request must not resolve this call.
		conn.deliver(t, "lottery:status", map[string]any{"requestId": "other"})
		conn.deliver(t, "lottery:status", map[string]any{"requestId": id, "machines": []any{}})
	}()

	data, err := req.Do(context.Background(), ws.Request{
		Event:         "lottery:get_status",
		ResponseEvent: "lottery:status",
		Timeout:       2 * time.Second,
	})
	require.NoError(t, err)
	require.Contains(t, string(data), "machines")
}

func TestRequesterTimeoutThenLateResponse(t *testing.T) {
	tr, dialer := openTransport(t)
	req := ws.NewRequester(tr)
	conn := dialer.lastConn()

	_, err := req.Do(context.Background(), ws.Request{
		Event:         "lottery:buy_balls",
		ResponseEvent: "lottery:purchase_success",
		Payload:       map[string]any{"machineId": "sol", "quantity": 3},
		Timeout:       30 * time.Millisecond,
	})
	require.ErrorIs(t, err, core.ErrRequestTimeout)
	require.Equal(t, ws.StateOpen, tr.State(), "a timed-out request must not close the transport")

	// The late response is dropped silently and the channel keeps working.
	id := lastRequestID(t, conn, "lottery:buy_balls")
	conn.deliver(t, "lottery:purchase_success", map[string]any{"requestId": id, "balance": "99"})

	go func() {
		var second string
		require.Eventually(t, func() bool {
			next := lastRequestID(t, conn, "lottery:buy_balls")
			second = next
			return next != id
		}, 2*time.Second, time.Millisecond)
		conn.deliver(t, "lottery:purchase_success", map[string]any{"requestId": second, "balance": "98"})
	}()

	data, err := req.Do(context.Background(), ws.Request{
		Event:         "lottery:buy_balls",
		ResponseEvent: "lottery:purchase_success",
		Payload:       map[string]any{"machineId": "sol", "quantity": 1},
		Timeout:       2 * time.Second,
	})
	require.NoError(t, err)
	require.Contains(t, string(data), `"98"`)
}

func TestRequesterErrorEvent(t *testing.T) {
	tr, dialer := openTransport(t)
	req := ws.NewRequester(tr)
	conn := dialer.lastConn()

	go func() {
		id := lastRequestID(t, conn, "bet:place_batch")
		conn.deliver(t, "bet:error", map[string]any{"requestId": id, "error": "insufficient balance"})
	}()

	_, err := req.Do(context.Background(), ws.Request{
		Event:         "bet:place_batch",
		ResponseEvent: "bet:batch_success",
		ErrorEvent:    "bet:error",
		Payload:       map[string]any{"bets": []any{}},
		Timeout:       2 * time.Second,
	})
	require.EqualError(t, err, "insufficient balance")
}

func TestRequesterErrorFieldInResponse(t *testing.T) {
	tr, dialer := openTransport(t)
	req := ws.NewRequester(tr)
	conn := dialer.lastConn()

	go func() {
		id := lastRequestID(t, conn, "lottery:buy_balls")
		conn.deliver(t, "lottery:purchase_success", map[string]any{"requestId": id, "error": "machine closed"})
	}()

	_, err := req.Do(context.Background(), ws.Request{
		Event:         "lottery:buy_balls",
		ResponseEvent: "lottery:purchase_success",
		Timeout:       2 * time.Second,
	})
	require.EqualError(t, err, "machine closed")
}

func TestRequesterContextCancel(t *testing.T) {
	tr, _ := openTransport(t)
	req := ws.NewRequester(tr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := req.Do(ctx, ws.Request{
		Event:         "lottery:get_status",
		ResponseEvent: "lottery:status",
		Timeout:       5 * time.Second,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRequesterRejectsNonObjectPayload(t *testing.T) {
	tr, _ := openTransport(t)
	req := ws.NewRequester(tr)

	_, err := req.Do(context.Background(), ws.Request{
		Event:         "lottery:get_status",
		ResponseEvent: "lottery:status",
		Payload:       []string{"not", "an", "object"},
		Timeout:       time.Second,
	})
	require.EqualError(t, err, "request payload must be a JSON object")
}
