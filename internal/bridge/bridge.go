package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/observability"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

// client is one connected operator-side WebSocket connection.
type client struct {
	tenantID     string
	connectionID string
	deviceID     string
	send         chan []byte
}

// Bridge mediates tool tunneling between in-process tool dispatch and
// connected operator clients. clients and the waiter/cache maps are each
// guarded by their own mutex; no lock is ever held across a channel send
// that could block indefinitely (only buffered, non-blocking sends are
// made while holding a lock).
type Bridge struct {
	clientsMu sync.RWMutex
	clients   map[string]map[string]*client // tenantID -> connectionID -> client

	waitersMu      sync.Mutex
	pendingAcks    map[string]chan AckEnvelope
	pendingResults map[string]chan ResultEnvelope

	cacheMu      sync.RWMutex
	resultCache  map[string]ResultEnvelope

	approvals *ApprovalStore
	logger    *observability.Logger
	upgrader  websocket.Upgrader
}

// New constructs a Bridge backed by the given approval store.
func New(approvals *ApprovalStore, logger *observability.Logger) *Bridge {
	return &Bridge{
		clients:        make(map[string]map[string]*client),
		pendingAcks:    make(map[string]chan AckEnvelope),
		pendingResults: make(map[string]chan ResultEnvelope),
		resultCache:    make(map[string]ResultEnvelope),
		approvals:      approvals,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ExecuteRequest runs the full request lifecycle described in spec §4.3:
// idempotent replay, client selection, ack wait, approval gating, and
// result wait.
func (b *Bridge) ExecuteRequest(ctx context.Context, req RequestEnvelope, preferredDevice string, shellCommand string) (ResultEnvelope, error) {
	if cached, ok := b.cachedResult(req.Request); ok {
		return cached, nil
	}

	c, err := b.pickClient(req.TenantID, preferredDevice)
	if err != nil {
		return ResultEnvelope{}, err
	}

	ackCh := make(chan AckEnvelope, 1)
	resultCh := make(chan ResultEnvelope, 1)
	b.waitersMu.Lock()
	b.pendingAcks[req.Request] = ackCh
	b.pendingResults[req.Request] = resultCh
	b.waitersMu.Unlock()
	defer b.clearWaiters(req.Request)

	data, err := json.Marshal(req)
	if err != nil {
		return ResultEnvelope{}, fmt.Errorf("marshal request envelope: %w", err)
	}
	select {
	case c.send <- data:
	default:
		return ResultEnvelope{}, &secpolicy.PolicyError{Kind: secpolicy.ErrorKindExecutionFailed, Msg: "client send buffer full"}
	}

	ack, err := b.awaitAck(ctx, ackCh)
	if err != nil {
		return ResultEnvelope{}, err
	}
	if !ack.Accepted {
		reason := ack.Reason
		if reason == "" {
			reason = "rejected by client"
		}
		return ResultEnvelope{}, &secpolicy.PolicyError{Kind: secpolicy.ErrorKindPolicyDenied, Msg: reason}
	}

	if req.Approval.Mode == "require_user" {
		if err := b.awaitApproval(ctx, req, shellCommand); err != nil {
			return ResultEnvelope{}, err
		}
	}

	result, err := b.awaitResult(ctx, resultCh)
	if err != nil {
		return ResultEnvelope{}, err
	}

	b.cacheResult(req.Request, result)
	return result, nil
}

func (b *Bridge) cachedResult(requestID string) (ResultEnvelope, bool) {
	b.cacheMu.RLock()
	defer b.cacheMu.RUnlock()
	r, ok := b.resultCache[requestID]
	return r, ok
}

func (b *Bridge) cacheResult(requestID string, result ResultEnvelope) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.resultCache[requestID] = result
}

func (b *Bridge) clearWaiters(requestID string) {
	b.waitersMu.Lock()
	defer b.waitersMu.Unlock()
	delete(b.pendingAcks, requestID)
	delete(b.pendingResults, requestID)
}

func (b *Bridge) pickClient(tenantID, preferredDevice string) (*client, error) {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()

	conns, ok := b.clients[tenantID]
	if !ok || len(conns) == 0 {
		return nil, &secpolicy.PolicyError{Kind: secpolicy.ErrorKindNotFound, Msg: fmt.Sprintf("no connected client for tenant %q", tenantID)}
	}
	if preferredDevice != "" {
		for _, c := range conns {
			if c.deviceID == preferredDevice {
				return c, nil
			}
		}
	}
	for _, c := range conns {
		return c, nil
	}
	return nil, &secpolicy.PolicyError{Kind: secpolicy.ErrorKindNotFound, Msg: fmt.Sprintf("no connected client for tenant %q", tenantID)}
}

func (b *Bridge) awaitAck(ctx context.Context, ackCh chan AckEnvelope) (AckEnvelope, error) {
	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()
	select {
	case ack := <-ackCh:
		return ack, nil
	case <-timer.C:
		return AckEnvelope{}, &secpolicy.PolicyError{Kind: secpolicy.ErrorKindTimeout, Msg: "bridge_ack_timeout"}
	case <-ctx.Done():
		return AckEnvelope{}, ctx.Err()
	}
}

func (b *Bridge) awaitResult(ctx context.Context, resultCh chan ResultEnvelope) (ResultEnvelope, error) {
	timer := time.NewTimer(resultTimeout)
	defer timer.Stop()
	select {
	case result := <-resultCh:
		return result, nil
	case <-timer.C:
		return ResultEnvelope{}, &secpolicy.PolicyError{Kind: secpolicy.ErrorKindTimeout, Msg: "execution_timeout"}
	case <-ctx.Done():
		return ResultEnvelope{}, ctx.Err()
	}
}

// awaitApproval polls the approvals row every 250ms for up to 45s,
// inserting it first. On denial/expiry/timeout it atomically marks the
// row expired (if still pending) and returns approval_denied.
func (b *Bridge) awaitApproval(ctx context.Context, req RequestEnvelope, shellCommand string) error {
	metadata := fmt.Sprintf("tool=%s command=%s", req.ToolCall.Name, shellCommand)
	if err := b.approvals.Insert(ctx, req.Request, req.ToolCall.Name, metadata); err != nil {
		return fmt.Errorf("insert approval row: %w", err)
	}

	deadline := time.Now().Add(approvalWait)
	ticker := time.NewTicker(approvalPollInterval)
	defer ticker.Stop()

	for {
		row, err := b.approvals.Get(ctx, req.Request)
		if err != nil {
			return fmt.Errorf("poll approval row: %w", err)
		}
		switch row.Status {
		case ApprovalApproved:
			return nil
		case ApprovalDenied, ApprovalExpired:
			return &secpolicy.PolicyError{Kind: secpolicy.ErrorKindPolicyDenied, Msg: "approval_denied"}
		}

		if time.Now().After(deadline) {
			_, _ = b.approvals.expireOverdueRow(ctx, req.Request)
			return &secpolicy.PolicyError{Kind: secpolicy.ErrorKindPolicyDenied, Msg: "approval_denied"}
		}

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnAck delivers an ack envelope to the waiting ExecuteRequest call, if any.
func (b *Bridge) OnAck(ack AckEnvelope) {
	b.waitersMu.Lock()
	ch, ok := b.pendingAcks[ack.Request]
	b.waitersMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

// OnResult delivers a result envelope to the waiting ExecuteRequest call,
// if any, and in all cases caches it for idempotent replay.
func (b *Bridge) OnResult(result ResultEnvelope) {
	b.cacheResult(result.Request, result)
	b.waitersMu.Lock()
	ch, ok := b.pendingResults[result.Request]
	b.waitersMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}

func (b *Bridge) registerClient(tenantID, deviceID string) *client {
	c := &client{
		tenantID:     tenantID,
		connectionID: uuid.NewString(),
		deviceID:     deviceID,
		send:         make(chan []byte, 64),
	}
	b.clientsMu.Lock()
	if b.clients[tenantID] == nil {
		b.clients[tenantID] = make(map[string]*client)
	}
	b.clients[tenantID][c.connectionID] = c
	b.clientsMu.Unlock()
	return c
}

func (b *Bridge) unregisterClient(c *client) {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	if conns, ok := b.clients[c.tenantID]; ok {
		delete(conns, c.connectionID)
		if len(conns) == 0 {
			delete(b.clients, c.tenantID)
		}
	}
}
