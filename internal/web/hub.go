package web

import (
	"strings"
	"sync"
)

// entryHub fans out change notifications for one entry to its open pages.
type entryHub struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newEntryHub() *entryHub {
	return &entryHub{subs: map[chan struct{}]struct{}{}}
}

func (h *entryHub) subscribe() (ch chan struct{}, cancel func()) {
	ch = make(chan struct{}, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}
}

func (h *entryHub) broadcast() {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
}

// entryBroadcaster keys hubs by entry ID. Mutating handlers broadcast after a
// successful write so open streams re-render the assigned-terms region.
type entryBroadcaster struct {
	mu   sync.Mutex
	hubs map[string]*entryHub
}

func newEntryBroadcaster() *entryBroadcaster {
	return &entryBroadcaster{hubs: map[string]*entryHub{}}
}

func (b *entryBroadcaster) hubFor(entryID string) *entryHub {
	k := strings.TrimSpace(entryID)
	if k == "" {
		k = "catalog"
	}
	b.mu.Lock()
	h := b.hubs[k]
	if h == nil {
		h = newEntryHub()
		b.hubs[k] = h
	}
	b.mu.Unlock()
	return h
}

func (b *entryBroadcaster) broadcast(entryID string) {
	b.hubFor(entryID).broadcast()
}
