package slack

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizeFingerprint collapses whitespace and case so that cosmetically
// different renderings of the same notification dedup together.
func normalizeFingerprint(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// deduper suppresses repeated notifications with the same fingerprint inside
// a sliding window.
type deduper struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newDeduper(window time.Duration) *deduper {
	return &deduper{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// suppress reports whether a notification with this fingerprint was already
// sent within the window. A notification that is not suppressed is recorded.
func (d *deduper) suppress(fingerprint string) bool {
	key := normalizeFingerprint(fingerprint)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return true
	}
	d.seen[key] = now
	return false
}
