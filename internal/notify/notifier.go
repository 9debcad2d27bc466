// Package notify turns vehicle changes into due-service notifications.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/vehicle-care/internal/events"
	"github.com/ukydev/vehicle-care/internal/schedule"
)

// DueMessage is the payload published for each service needing attention.
type DueMessage struct {
	RegNo         string          `json:"regNo"`
	ServiceID     int             `json:"serviceId"`
	Service       string          `json:"service"`
	Status        schedule.Status `json:"status"`
	DueIn         int64           `json:"dueIn"`
	NextServiceAt int64           `json:"nextServiceAt"`
	Mileage       int64           `json:"mileage"`
	At            time.Time       `json:"at"`
}

// Topic returns the topic due messages for regNo are sent to.
func Topic(regNo string) string {
	return "vehicles/" + regNo + "/due"
}

const (
	// DefaultTimeout bounds the publishing of all messages for one event.
	DefaultTimeout = 5 * time.Second
	// DefaultQueueSize is the number of events Attach buffers for its worker.
	DefaultQueueSize = 256
)

// ErrQueueFull is returned to the bus when an attached notifier is behind.
var ErrQueueFull = errors.New("notification queue full")

// DueNotifier recomputes due services whenever a vehicle is created or
// updated and publishes the Overdue and Due Soon entries.
type DueNotifier struct {
	planner   *schedule.Planner
	publisher Publisher
	logger    *log.Entry
	timeout   time.Duration
	queueSize int
}

func NewDueNotifier(planner *schedule.Planner, publisher Publisher, logger *log.Entry) *DueNotifier {
	if logger == nil {
		logger = log.WithField("component", "notify")
	}
	return &DueNotifier{
		planner:   planner,
		publisher: publisher,
		logger:    logger,
		timeout:   DefaultTimeout,
		queueSize: DefaultQueueSize,
	}
}

// Attach subscribes the notifier to bus. Events are queued and published by
// a background worker, so a slow broker never holds up the publisher of the
// event. When the queue is full the event is dropped. stop unsubscribes and
// waits until the queued events have been handled.
func (n *DueNotifier) Attach(bus *events.Bus) (stop func()) {
	queue := make(chan events.Event, n.queueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range queue {
			if err := n.Handle(context.Background(), e); err != nil {
				n.logger.WithError(err).WithField("reg_no", e.RegNo).Warn("Failed to publish due notifications")
			}
		}
	}()

	var (
		mu     sync.RWMutex
		closed bool
	)
	unsubscribe := bus.Subscribe(func(_ context.Context, e events.Event) error {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return nil
		}
		select {
		case queue <- e:
			return nil
		default:
			return fmt.Errorf("%s %s: %w", e.Type, e.RegNo, ErrQueueFull)
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			closed = true
			close(queue)
			mu.Unlock()
			<-done
		})
	}
}

// Handle publishes the notifications for one event, giving up on whatever
// is left once the notifier's timeout has passed. Deletions are ignored.
func (n *DueNotifier) Handle(ctx context.Context, e events.Event) error {
	if e.Type != events.VehicleCreated && e.Type != events.VehicleUpdated {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	snap := e.Vehicle.Snapshot()
	attention := schedule.Attention(n.planner.Due(snap))
	if len(attention) == 0 {
		return nil
	}

	topic := Topic(e.RegNo)
	var errs []error
	for i, d := range attention {
		payload, err := json.Marshal(DueMessage{
			RegNo:         e.RegNo,
			ServiceID:     d.ID,
			Service:       d.Name,
			Status:        d.Status,
			DueIn:         d.DueIn,
			NextServiceAt: d.NextServiceAt,
			Mileage:       snap.Mileage,
			At:            e.At,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := n.publisher.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", d.Name, err))
		}
		if err := ctx.Err(); err != nil {
			if left := len(attention) - i - 1; left > 0 {
				errs = append(errs, fmt.Errorf("%d notifications not sent: %w", left, err))
			}
			break
		}
	}

	n.logger.WithFields(log.Fields{
		"reg_no":   e.RegNo,
		"services": len(attention),
		"failed":   len(errs),
	}).Debug("Published due notifications")
	return errors.Join(errs...)
}
