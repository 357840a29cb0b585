// Package thumbnail implements the design's thumbnail extractor (§4.5,
// §9): RFC 6184 reassembly of a publisher's H.264 RTP stream into Annex-B
// access units, handed off to a bounded worker pool that decodes and
// encodes off the media-plane hot path. Extraction failures never affect
// forwarding.
package thumbnail

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
)

type job struct {
	accessUnit []byte
	onEncoded  func([]byte)
}

// Extractor owns the per-room NAL assemblers and the bounded worker pool
// that turns completed access units into encoded thumbnails (§9: "Submit
// decode jobs to a worker pool with a bounded queue; drop (don't block) if
// the queue is full — thumbnails are best-effort").
//
// Feed guards the per-room assembler and throttle state with e.mu, so calls
// for the same room are serialized. The
// worker goroutines only ever call back through onEncoded, which the
// caller (package room) is responsible for making safe to call from off
// the media-plane goroutine.
type Extractor struct {
	decoder VideoDecoder
	encoder ThumbnailEncoder
	log     logging.LeveledLogger

	jobs chan job
	wg   sync.WaitGroup

	throttle time.Duration

	mu         sync.Mutex
	assemblers map[string]*assembler
	lastSubmit map[string]time.Time

	dropped uint64
	failed  uint64

	stop chan struct{}
}

// NewExtractor starts workers goroutines draining a bounded job queue of
// depth queueDepth. throttle is the per-room minimum interval between
// submitted decode jobs (§5's "thumbnail throttle (per-room, default every
// few seconds)").
func NewExtractor(workers, queueDepth int, throttle time.Duration, decoder VideoDecoder, encoder ThumbnailEncoder, log logging.LeveledLogger) *Extractor {
	e := &Extractor{
		decoder:    decoder,
		encoder:    encoder,
		log:        log,
		jobs:       make(chan job, queueDepth),
		throttle:   throttle,
		assemblers: make(map[string]*assembler),
		lastSubmit: make(map[string]time.Time),
		stop:       make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.runWorker()
	}
	return e
}

// Close stops accepting new work and waits for in-flight jobs to drain.
func (e *Extractor) Close() {
	close(e.stop)
	close(e.jobs)
	e.wg.Wait()
}

// Feed appends one publisher RTP payload to roomID's in-progress access
// unit. On the RTP marker bit (access unit boundary), if the per-room
// throttle window has elapsed, it submits the completed access unit to the
// worker pool; otherwise the assembled bytes are discarded, not queued, to
// bound memory use during the throttle window.
func (e *Extractor) Feed(roomID string, payload []byte, marker bool, onEncoded func([]byte)) {
	e.mu.Lock()
	a, ok := e.assemblers[roomID]
	if !ok {
		a = &assembler{}
		e.assemblers[roomID] = a
	}
	a.push(payload)

	if !marker {
		e.mu.Unlock()
		return
	}
	accessUnit := a.takeAccessUnit()

	now := time.Now()
	last, seen := e.lastSubmit[roomID]
	throttled := seen && now.Sub(last) < e.throttle
	if accessUnit != nil && !throttled {
		e.lastSubmit[roomID] = now
	}
	e.mu.Unlock()

	if accessUnit == nil || throttled {
		return
	}

	select {
	case e.jobs <- job{accessUnit: accessUnit, onEncoded: onEncoded}:
	default:
		atomic.AddUint64(&e.dropped, 1)
		e.log.Debugf("thumbnail: job queue full, dropping access unit for room %s", roomID)
	}
}

// ForgetRoom releases a room's assembler state, called on room teardown.
func (e *Extractor) ForgetRoom(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.assemblers, roomID)
	delete(e.lastSubmit, roomID)
}

func (e *Extractor) runWorker() {
	defer e.wg.Done()
	for j := range e.jobs {
		img, err := e.decoder.Decode(j.accessUnit)
		if err != nil {
			atomic.AddUint64(&e.failed, 1)
			e.log.Debugf("thumbnail: decode failed: %v", err)
			continue
		}
		encoded, err := e.encoder.Encode(img)
		if err != nil {
			atomic.AddUint64(&e.failed, 1)
			e.log.Debugf("thumbnail: encode failed: %v", err)
			continue
		}
		j.onEncoded(encoded)
	}
}

// Dropped reports how many completed access units were discarded because
// the worker queue was full, for the observability counters in
// SPEC_FULL.md §10.
func (e *Extractor) Dropped() uint64 { return atomic.LoadUint64(&e.dropped) }

// Failed reports how many jobs reached a worker but failed to decode or
// encode.
func (e *Extractor) Failed() uint64 { return atomic.LoadUint64(&e.failed) }
