package app

import (
	"context"
	"sync"
	"time"
)

// Snapshot is one encoded preview frame.
type Snapshot struct {
	JPEG       []byte
	Seq        uint64
	CapturedAt time.Time

	// Version increases by one with every Publish and is never reused,
	// even across sessions whose Seq restarts at 1.
	Version uint64
}

// Preview holds the most recently published frame and wakes anyone
// waiting for a newer one. Readers never touch the capture session, so any
// number of HTTP clients can watch while the session keeps one consumer.
type Preview struct {
	mu      sync.Mutex
	latest  Snapshot
	changed chan struct{}
}

// NewPreview returns an empty Preview.
func NewPreview() *Preview {
	return &Preview{changed: make(chan struct{})}
}

// Publish replaces the latest frame. jpeg must not be modified afterwards.
func (p *Preview) Publish(jpeg []byte, seq uint64, capturedAt time.Time) {
	p.mu.Lock()
	p.latest = Snapshot{
		JPEG:       jpeg,
		Seq:        seq,
		CapturedAt: capturedAt,
		Version:    p.latest.Version + 1,
	}
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()
}

// Latest returns the most recent frame. ok is false until the first Publish.
func (p *Preview) Latest() (snap Snapshot, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.latest.Version > 0
}

// Next blocks until a frame newer than version is published or ctx ends.
func (p *Preview) Next(ctx context.Context, version uint64) (Snapshot, error) {
	for {
		p.mu.Lock()
		snap, changed := p.latest, p.changed
		p.mu.Unlock()

		if snap.Version > version {
			return snap, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}
