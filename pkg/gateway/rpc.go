package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const idempotencyTTL = 5 * time.Minute

// router maps RPC method names to handlers and replays cached responses
// for requests carrying an idempotency key. Replay matters for `run`:
// a client that reconnects mid-run and resends the request must not
// start a second agent loop.
type router struct {
	mu      sync.RWMutex
	methods map[string]Handler
	cache   map[string]cachedResponse
}

type cachedResponse struct {
	resp      Response
	expiresAt time.Time
}

func newRouter() *router {
	return &router{
		methods: make(map[string]Handler),
		cache:   make(map[string]cachedResponse),
	}
}

func (r *router) register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("method name is required")
	}
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	r.mu.Lock()
	r.methods[name] = h
	r.mu.Unlock()
	return nil
}

func (r *router) methodNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	return names
}

// parse validates a raw frame as a JSON-RPC request. A nil request with
// a non-nil *Error means the frame was malformed.
func parse(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &Error{Code: CodeParse, Message: "parse error", Data: err.Error()}
	}
	if req.ID == "" {
		return nil, &Error{Code: CodeInvalidRequest, Message: "invalid request: id is required"}
	}
	if req.Method == "" {
		return nil, &Error{Code: CodeInvalidRequest, Message: "invalid request: method is required"}
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}
	return &req, nil
}

// dispatch runs the handler for a request and shapes the outcome into a
// response frame. Handler errors map to CodeInternal unless the handler
// returned an *Error itself.
func (r *router) dispatch(ctx context.Context, req *Request) Response {
	if key := cacheKey(req); key != "" {
		if resp, ok := r.cached(key); ok {
			resp.ID = req.ID
			return resp
		}
	}

	r.mu.RLock()
	handler, ok := r.methods[req.Method]
	r.mu.RUnlock()
	if !ok {
		return errorResponse(req.ID, &Error{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		})
	}

	result, err := handler(ctx, req.Params)

	var resp Response
	if err != nil {
		rpcErr, ok := err.(*Error)
		if !ok {
			rpcErr = &Error{Code: CodeInternal, Message: err.Error()}
		}
		resp = errorResponse(req.ID, rpcErr)
	} else {
		resp = Response{ID: req.ID, JSONRPC: "2.0", Result: result}
	}

	if key := cacheKey(req); key != "" {
		r.remember(key, resp)
	}
	return resp
}

func errorResponse(id string, err *Error) Response {
	return Response{ID: id, JSONRPC: "2.0", Error: err}
}

func cacheKey(req *Request) string {
	if req.IdempotencyKey == "" {
		return ""
	}
	return req.Method + ":" + req.IdempotencyKey
}

func (r *router) cached(key string) (Response, bool) {
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return Response{}, false
	}
	resp := entry.resp
	if entry.resp.Error != nil {
		errCopy := *entry.resp.Error
		resp.Error = &errCopy
	}
	return resp, true
}

func (r *router) remember(key string, resp Response) {
	now := time.Now()
	r.mu.Lock()
	r.cache[key] = cachedResponse{resp: resp, expiresAt: now.Add(idempotencyTTL)}
	for k, entry := range r.cache {
		if now.After(entry.expiresAt) {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
}
