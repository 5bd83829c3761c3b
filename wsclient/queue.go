package wsclient

// QueuePolicy controls send/request behavior while the client is not
// open (spec §4.7 "Offline queue").
type QueuePolicy string

const (
	QueueDropNewest QueuePolicy = "drop-newest"
	QueueDropOldest QueuePolicy = "drop-oldest"
	QueueOff        QueuePolicy = "off"
)

// queuedFrame is one buffered outbound frame awaiting flush on open.
type queuedFrame struct {
	frame  []byte
	onDrop func(err error) // settles the caller's promise/future if dropped
}

// outboxQueue is the FIFO buffer used while state != open.
type outboxQueue struct {
	policy QueuePolicy
	size   int
	items  []queuedFrame
}

func newOutboxQueue(policy QueuePolicy, size int) *outboxQueue {
	return &outboxQueue{policy: policy, size: size}
}

// offer enqueues frame under policy, returning an error immediately only
// if the policy is "off". A frame dropped on overflow (including the new
// frame itself under "drop-newest", e.g. queueSize = 0, spec §8) is
// reported through its onDrop callback and offer returns nil.
func (q *outboxQueue) offer(frame []byte, onDrop func(err error)) error {
	switch q.policy {
	case QueueOff:
		return &StateError{Msg: "Cannot send while disconnected with queue disabled"}
	case QueueDropOldest:
		if len(q.items) >= q.size {
			if q.size == 0 {
				if onDrop != nil {
					onDrop(&StateError{Msg: "queue overflow: newest frame dropped"})
				}
				return nil
			}
			dropped := q.items[0]
			q.items = q.items[1:]
			if dropped.onDrop != nil {
				dropped.onDrop(&StateError{Msg: "queue overflow: oldest frame dropped"})
			}
		}
		q.items = append(q.items, queuedFrame{frame: frame, onDrop: onDrop})
		return nil
	default: // drop-newest
		if len(q.items) >= q.size {
			if onDrop != nil {
				onDrop(&StateError{Msg: "queue overflow: newest frame dropped"})
			}
			return nil
		}
		q.items = append(q.items, queuedFrame{frame: frame, onDrop: onDrop})
		return nil
	}
}

// drain empties the queue in FIFO order for the caller to flush.
func (q *outboxQueue) drain() []queuedFrame {
	items := q.items
	q.items = nil
	return items
}

func (q *outboxQueue) len() int { return len(q.items) }
