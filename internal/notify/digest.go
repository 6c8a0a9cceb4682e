// Package notify collects the events of one pipeline cycle and mails them
// as a single digest.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"runmgr/pkg/domain"
)

// Digest accumulates timestamped lines. It is safe for concurrent use.
type Digest struct {
	mu    sync.Mutex
	lines []string
	now   func() time.Time
}

// NewDigest returns an empty digest stamping lines with now (time.Now when nil).
func NewDigest(now func() time.Time) *Digest {
	if now == nil {
		now = time.Now
	}
	return &Digest{now: now}
}

// Add records msg formatted with args as "[timestamp] message" and returns
// the message without the stamp.
func (d *Digest) Add(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	d.mu.Lock()
	d.lines = append(d.lines, "["+domain.FormatTimestamp(d.now())+"] "+msg)
	d.mu.Unlock()
	return msg
}

// Lines returns a copy of the recorded lines.
func (d *Digest) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

// Empty reports whether nothing was recorded.
func (d *Digest) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lines) == 0
}

// Reset drops all lines.
func (d *Digest) Reset() {
	d.mu.Lock()
	d.lines = nil
	d.mu.Unlock()
}

// Body joins the lines with newlines.
func (d *Digest) Body() string {
	return strings.Join(d.Lines(), "\n")
}
