package queue

import (
	"context"

	"firestige.xyz/netsensor/internal/core"
)

// Fanout enqueues each frame into the primary queue and, when configured, into
// the RTT queue. The RTT queue receives its own copy of the data.
type Fanout struct {
	Primary *Queue
	RTT     *Queue // nil when RTT detection has no dedicated queue
}

// Enqueue delivers p to every queue, applying backpressure on each.
func (f Fanout) Enqueue(ctx context.Context, p core.CapturedPacket) error {
	if f.RTT != nil {
		if err := f.RTT.Enqueue(ctx, p.Clone()); err != nil {
			return err
		}
	}
	return f.Primary.Enqueue(ctx, p)
}
