// Package publish implements C5: the six-step publish algorithm in
// SPEC_FULL §4.5, fanning out to the push (C3) and pull (C4) delivery
// paths after persistence.
package publish

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
	"github.com/mvdbeek/pulsar-relay/internal/connmgr"
	"github.com/mvdbeek/pulsar-relay/internal/identity"
	"github.com/mvdbeek/pulsar-relay/internal/message"
	"github.com/mvdbeek/pulsar-relay/internal/pollmgr"
	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

// Request is a single publish request's input fields.
type Request struct {
	Topic    string
	Payload  []byte
	TTL      *int64
	Metadata map[string]string
}

// Result is what the producer sees back for one publish.
type Result struct {
	MessageID string
	Topic     string
	Timestamp time.Time
}

// BulkEntry pairs a Request with its independent outcome in a bulk
// publish, per SPEC_FULL §4.5's "per-message outcomes are independent"
// resolution (Open Question 2).
type BulkEntry struct {
	Request Request
	Result  Result
	Err     error
}

// Pipeline wires C1 (storage), C2 (authorization), C3 (push fan-out),
// and C4 (pull delivery) together behind the publish operation.
type Pipeline struct {
	storage    storage.Backend
	oracle     *authz.Oracle
	connMgr    *connmgr.Manager
	pollMgr    *pollmgr.Manager
	maxPayload int
}

func NewPipeline(backend storage.Backend, oracle *authz.Oracle, connMgr *connmgr.Manager, pollMgr *pollmgr.Manager, maxPayload int) *Pipeline {
	if maxPayload <= 0 {
		maxPayload = message.DefaultMaxPayload
	}
	return &Pipeline{storage: backend, oracle: oracle, connMgr: connMgr, pollMgr: pollMgr, maxPayload: maxPayload}
}

// Publish runs the six-step algorithm for a single message.
func (p *Pipeline) Publish(ctx context.Context, id identity.Identity, req Request) (Result, error) {
	// 1. Validate.
	if err := message.ValidateTopic(req.Topic); err != nil {
		return Result{}, err
	}
	if err := message.ValidatePayload(req.Payload, p.maxPayload); err != nil {
		return Result{}, err
	}
	if err := message.ValidateMetadata(req.Metadata); err != nil {
		return Result{}, err
	}
	if err := message.ValidateTTL(req.TTL); err != nil {
		return Result{}, err
	}

	// 2. Authorize.
	decision, err := p.oracle.Authorize(ctx, id, req.Topic, authz.ActionWrite)
	if err != nil {
		return Result{}, err
	}
	switch decision {
	case authz.TopicNotFound:
		return Result{}, pulsarerr.New(pulsarerr.TopicNotFound, "topic not found: "+req.Topic)
	case authz.DenyNoScope:
		return Result{}, pulsarerr.New(pulsarerr.Forbidden, "missing write scope")
	case authz.DenyNoAccess:
		return Result{}, pulsarerr.New(pulsarerr.Forbidden, "not authorized to publish to "+req.Topic)
	}

	// 3. Materialise.
	messageID, err := message.NewID()
	if err != nil {
		return Result{}, err
	}
	now := time.Now().UTC()

	// 4. Persist.
	_, streamID, err := p.storage.Append(ctx, storage.Fields{
		MessageID: messageID,
		Topic:     req.Topic,
		Payload:   req.Payload,
		Timestamp: now,
		TTL:       req.TTL,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return Result{}, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "failed to persist message", err)
	}

	msg := message.Message{
		MessageID: messageID,
		Topic:     req.Topic,
		Payload:   req.Payload,
		Timestamp: now,
		TTL:       req.TTL,
		Metadata:  req.Metadata,
		StreamID:  streamID,
	}

	// 5. Fan out. Failures here are subscriber-local and non-fatal to the
	// publisher, so errors are not propagated - only logging would flag
	// them, which callers wire in at the transport layer.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); p.connMgr.Broadcast(ctx, req.Topic, msg) }()
	go func() { defer wg.Done(); p.pollMgr.Deliver(req.Topic, msg) }()
	wg.Wait()

	// 6. Reply.
	return Result{MessageID: messageID, Topic: req.Topic, Timestamp: now}, nil
}

// PublishBulk runs each entry through Publish independently via a
// worker pool bounded to GOMAXPROCS, the same bounded-fan-out idiom the
// teacher uses for its fanout-shard workers, translated from a fixed
// shard count to a semaphore-bounded goroutine-per-item pattern since
// bulk batch sizes are caller-determined rather than a fixed shard
// count. One entry's failure never affects another's outcome.
func (p *Pipeline) PublishBulk(ctx context.Context, id identity.Identity, reqs []Request) []BulkEntry {
	out := make([]BulkEntry, len(reqs))

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, req Request) {
			defer wg.Done()
			defer func() { <-sem }()
			result, err := p.Publish(ctx, id, req)
			out[i] = BulkEntry{Request: req, Result: result, Err: err}
		}(i, req)
	}
	wg.Wait()

	return out
}
