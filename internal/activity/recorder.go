// Package activity implements fire-and-forget activity logging. Metered API
// attempts are queued on a bounded channel and drained to the database by a
// background goroutine, so a slow or failing activity write can never add
// latency to, or fail, the request it describes.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/safego"
	"github.com/keygate/keygate/internal/telemetry"
)

// Store is the recorder's view of the activity table.
// *repositories.ActivityRepository satisfies it.
type Store interface {
	CreateActivityLog(ctx context.Context, log *models.ActivityLog) error
}

// writeTimeout bounds each drain write so one hung insert cannot stall the
// queue indefinitely.
const writeTimeout = 5 * time.Second

// Recorder buffers activity entries and writes them asynchronously.
type Recorder struct {
	store     Store
	queue     chan *models.ActivityLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRecorder creates a Recorder with the given queue capacity and starts its
// drain goroutine. Capacity 0 falls back to 1024.
func NewRecorder(store Store, capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1024
	}

	r := &Recorder{
		store: store,
		queue: make(chan *models.ActivityLog, capacity),
		done:  make(chan struct{}),
	}

	r.wg.Add(1)
	safego.Go(r.drain)

	return r
}

// Record queues an entry without blocking. When the queue is full the entry is
// dropped and counted; callers never observe the loss.
func (r *Recorder) Record(entry *models.ActivityLog) {
	select {
	case r.queue <- entry:
	default:
		telemetry.ActivityEntriesDroppedTotal.Inc()
		slog.Warn("activity queue full, dropping entry",
			"key_hint", models.KeyHint(entry.LicenseKey),
			"endpoint", entry.Endpoint)
	}
}

// drain writes queued entries until Close drains the queue and stops it.
func (r *Recorder) drain() {
	defer r.wg.Done()

	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-r.done:
			// Flush whatever made it into the queue before shutdown.
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry *models.ActivityLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.CreateActivityLog(ctx, entry); err != nil {
		telemetry.ActivityEntriesDroppedTotal.Inc()
		slog.Error("failed to write activity entry",
			"key_hint", models.KeyHint(entry.LicenseKey),
			"endpoint", entry.Endpoint,
			"error", err)
	}
}

// Close flushes queued entries and stops the drain goroutine. Safe to call
// more than once. Entries recorded after Close may be lost.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}
