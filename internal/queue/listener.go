package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const queueScrapeChannel = "queue_scrape"

// notifier maintains a dedicated LISTEN connection to the queue_scrape
// channel and fans out "<id>|completed"/"<id>|failed" notifications to
// whichever goroutines are waiting on that id. On reconnection it
// re-subscribes and then re-reads terminal state for all outstanding
// waiters to catch missed notifications — that re-read is delegated to
// resync, supplied by Queue.
type notifier struct {
	dsn     string
	resync  func(ctx context.Context, ids []uuid.UUID)
	backoff time.Duration

	mu      sync.Mutex
	waiters map[uuid.UUID][]chan string
}

func newNotifier(dsn string, resync func(ctx context.Context, ids []uuid.UUID)) *notifier {
	return &notifier{
		dsn:     dsn,
		resync:  resync,
		backoff: time.Second,
		waiters: make(map[uuid.UUID][]chan string),
	}
}

// subscribe registers interest in id's terminal notification. The
// returned channel receives exactly one value ("completed" or
// "failed") if a notification arrives while subscribed. Callers MUST
// subscribe before reading current job state, or a notification fired
// between the read and the subscribe is lost.
func (n *notifier) subscribe(id uuid.UUID) (<-chan string, func()) {
	ch := make(chan string, 1)
	n.mu.Lock()
	n.waiters[id] = append(n.waiters[id], ch)
	n.mu.Unlock()

	unsubscribe := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		chans := n.waiters[id]
		for i, c := range chans {
			if c == ch {
				n.waiters[id] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(n.waiters[id]) == 0 {
			delete(n.waiters, id)
		}
	}
	return ch, unsubscribe
}

// publishLocal delivers status to every waiter on id, without going
// through Postgres. Used both by the live notification path and by
// resync's catch-up reads.
func (n *notifier) publishLocal(id uuid.UUID, status string) {
	n.mu.Lock()
	chans := n.waiters[id]
	delete(n.waiters, id)
	n.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- status:
		default:
		}
	}
}

func (n *notifier) outstandingIDs() []uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(n.waiters))
	for id := range n.waiters {
		ids = append(ids, id)
	}
	return ids
}

// run connects, issues LISTEN, and processes notifications until ctx
// is cancelled, reconnecting with backoff on any connection error.
func (n *notifier) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := n.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-time.After(n.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
	}
}

func (n *notifier) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, n.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "LISTEN "+queueScrapeChannel); err != nil {
		return err
	}

	// Reconnected (or first connect) — re-read state for any waiter
	// that might have missed its notification while we were down.
	if n.resync != nil {
		n.resync(ctx, n.outstandingIDs())
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		id, status, ok := parseNotificationPayload(notification.Payload)
		if !ok {
			continue
		}
		n.publishLocal(id, status)
	}
}

func parseNotificationPayload(payload string) (uuid.UUID, string, bool) {
	idStr, status, found := strings.Cut(payload, "|")
	if !found {
		return uuid.UUID{}, "", false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.UUID{}, "", false
	}
	return id, status, true
}
