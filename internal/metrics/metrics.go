// Package metrics holds process-wide counters exported through expvar
// (served at /debug/vars).
package metrics

import (
	"expvar"
	"strconv"
	"sync/atomic"
)

// SentCountName is the expvar name of the mails-sent counter.
const SentCountName = "mail_sent_count"

// Counter is a monotonically increasing counter. The zero value is ready to
// use; it implements expvar.Var.
type Counter struct {
	n atomic.Int64
}

// Inc adds one.
func (c *Counter) Inc() {
	c.n.Add(1)
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return c.n.Load()
}

// String renders the count as JSON for expvar.
func (c *Counter) String() string {
	return strconv.FormatInt(c.n.Load(), 10)
}

// Published returns the counter published under name, publishing a new one
// if the name is free. It panics if name holds some other expvar.Var.
func Published(name string) *Counter {
	if v := expvar.Get(name); v != nil {
		return v.(*Counter)
	}
	c := &Counter{}
	expvar.Publish(name, c)
	return c
}

// Sent counts mails accepted by a provider.
var Sent = Published(SentCountName)
