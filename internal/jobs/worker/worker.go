// Package worker runs the bounded pool that ingests papers concurrently.
// Papers are independent units of work: one paper failing never blocks or
// cancels its siblings, and the graph store's merge-by-key is the only
// synchronization between them.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	redisclient "github.com/yungbote/scholargraph-backend/internal/clients/redis"
	types "github.com/yungbote/scholargraph-backend/internal/domain"
	"github.com/yungbote/scholargraph-backend/internal/modules/ingestion"
	"github.com/yungbote/scholargraph-backend/internal/platform/envutil"
	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
)

type PaperJob struct {
	PaperID string             `json:"paper_id"`
	Records []*types.RawRecord `json:"records"`
}

type Pool struct {
	log         *logger.Logger
	ing         *ingestion.Ingester
	retry       *redisclient.RetryQueue
	jobs        chan PaperJob
	concurrency int
}

func NewPool(log *logger.Logger, ing *ingestion.Ingester, retry *redisclient.RetryQueue) *Pool {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	queueSize := envutil.Int("INGEST_QUEUE_SIZE", 256)
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		log:         log.With("component", "IngestPool"),
		ing:         ing,
		retry:       retry,
		jobs:        make(chan PaperJob, queueSize),
		concurrency: concurrency,
	}
}

// Enqueue hands a paper to the pool without blocking; callers get an error
// back when the queue is saturated so they can shed load upstream.
func (p *Pool) Enqueue(job PaperJob) error {
	select {
	case p.jobs <- job:
		return nil
	default:
		return fmt.Errorf("ingest queue full (%d pending)", cap(p.jobs))
	}
}

func (p *Pool) QueueDepth() int { return len(p.jobs) }

// Start launches the workers and blocks until ctx is done and the queue has
// drained in-flight jobs.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info("starting ingest worker pool", "concurrency", p.concurrency, "queue_size", cap(p.jobs))

	eg, egctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		workerID := i + 1
		eg.Go(func() error {
			p.runLoop(egctx, workerID)
			return nil
		})
	}
	_ = eg.Wait()
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			p.drainQueue()
			p.log.Info("worker loop stopped", "worker_id", workerID)
			return
		case job := <-p.jobs:
			p.runOne(ctx, workerID, job)
		}
	}
}

func (p *Pool) runOne(ctx context.Context, workerID int, job PaperJob) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("ingest panic",
				"worker_id", workerID,
				"paper_id", job.PaperID,
				"panic", r,
			)
			p.park(ctx, job, fmt.Sprintf("panic: %v", r))
		}
	}()

	result, err := p.ing.IngestPaper(ctx, job.PaperID, job.Records)
	if err != nil {
		p.log.Warn("paper ingestion failed",
			"worker_id", workerID,
			"paper_id", job.PaperID,
			"error", err,
		)
		p.park(ctx, job, err.Error())
		return
	}
	p.log.Debug("paper ingested",
		"worker_id", workerID,
		"paper_id", job.PaperID,
		"entities", result.EntityCount,
		"relationships", result.RelationshipCount,
	)
}

// drainQueue parks jobs that were accepted but never picked up, so papers
// acknowledged before a shutdown land in the retry queue instead of
// vanishing. The shutdown context is already canceled, so parking gets its
// own deadline.
func (p *Pool) drainQueue() {
	for {
		select {
		case job := <-p.jobs:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.park(ctx, job, "shutdown before ingestion")
			cancel()
		default:
			return
		}
	}
}

func (p *Pool) park(ctx context.Context, job PaperJob, reason string) {
	if p.retry == nil {
		return
	}
	err := p.retry.Push(ctx, redisclient.FailedPaper{
		PaperID:  job.PaperID,
		Records:  job.Records,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		p.log.Error("failed to park paper for retry", "paper_id", job.PaperID, "error", err)
	}
}
