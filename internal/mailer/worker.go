package mailer

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dkostenko/carnet/pkg/utilities"
)

// DefaultQueueSize bounds the number of pending mail jobs.
const DefaultQueueSize = 256

// Job is one queued delivery with an id for log correlation.
type Job struct {
	ID  string
	Msg Message
}

// Queue accepts jobs from request handlers and hands them to a background
// worker. Enqueue never blocks a request: when the buffer is full the job
// is dropped and counted.
type Queue struct {
	sender Sender
	logger *zap.SugaredLogger
	jobs   chan Job
	wg     sync.WaitGroup

	sent    prometheus.Counter
	failed  prometheus.Counter
	dropped prometheus.Counter
}

// NewQueue builds a Queue and registers its counters. size <= 0 means
// DefaultQueueSize.
func NewQueue(sender Sender, logger *zap.SugaredLogger, reg prometheus.Registerer, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		sender: sender,
		logger: logger,
		jobs:   make(chan Job, size),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carnet_mail_sent_total",
			Help: "Total mail deliveries that succeeded.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carnet_mail_failed_total",
			Help: "Total mail deliveries that failed.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carnet_mail_dropped_total",
			Help: "Total mail jobs dropped because the queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(q.sent, q.failed, q.dropped)
	}
	return q
}

// Start launches the delivery worker. Call Stop to drain and shut down.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.run()
}

// Stop closes the queue and waits for in-flight deliveries to finish.
func (q *Queue) Stop() {
	close(q.jobs)
	q.wg.Wait()
}

// Enqueue queues a message for delivery. Returns false when the job was
// dropped because the buffer is full; the request still succeeds either way.
func (q *Queue) Enqueue(msg Message) bool {
	job := Job{ID: utilities.NewSnowflakeID(), Msg: msg}
	select {
	case q.jobs <- job:
		q.logger.Debugw("mail enqueued", "job_id", job.ID, "to", msg.To)
		return true
	default:
		q.dropped.Inc()
		q.logger.Warnw("mail queue full, job dropped", "job_id", job.ID, "to", msg.To)
		return false
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for job := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := q.sender.Send(ctx, job.Msg)
		cancel()
		if err != nil {
			q.failed.Inc()
			q.logger.Warnw("mail delivery failed", "job_id", job.ID, "to", job.Msg.To, "err", err)
			continue
		}
		q.sent.Inc()
		q.logger.Infow("mail delivered", "job_id", job.ID, "to", job.Msg.To)
	}
}
