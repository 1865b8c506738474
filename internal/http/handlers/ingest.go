package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	redisclient "github.com/yungbote/scholargraph-backend/internal/clients/redis"
	types "github.com/yungbote/scholargraph-backend/internal/domain"
	"github.com/yungbote/scholargraph-backend/internal/http/response"
	"github.com/yungbote/scholargraph-backend/internal/jobs/worker"
	"github.com/yungbote/scholargraph-backend/internal/modules/ingestion"
)

type IngestHandler struct {
	ing   *ingestion.Ingester
	agg   *ingestion.AggregationEngine
	pool  *worker.Pool
	retry *redisclient.RetryQueue
}

func NewIngestHandler(ing *ingestion.Ingester, agg *ingestion.AggregationEngine, pool *worker.Pool, retry *redisclient.RetryQueue) *IngestHandler {
	return &IngestHandler{ing: ing, agg: agg, pool: pool, retry: retry}
}

type ingestRequest struct {
	Records []*types.RawRecord `json:"records"`
	Async   bool               `json:"async"`
}

// POST /api/papers/:paperID/ingest
func (h *IngestHandler) IngestPaper(c *gin.Context) {
	paperID := strings.TrimSpace(c.Param("paperID"))
	if paperID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_paper_id", nil)
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if len(req.Records) == 0 {
		response.RespondError(c, http.StatusBadRequest, "no_records", nil)
		return
	}

	if req.Async {
		if err := h.pool.Enqueue(worker.PaperJob{PaperID: paperID, Records: req.Records}); err != nil {
			response.RespondError(c, http.StatusServiceUnavailable, "queue_full", err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"paper_id": paperID, "queued": true})
		return
	}

	result, err := h.ing.IngestPaper(c.Request.Context(), paperID, req.Records)
	if err != nil {
		// The result still reports state and collected errors.
		c.JSON(http.StatusUnprocessableEntity, gin.H{"result": result})
		return
	}
	response.RespondOK(c, gin.H{"result": result})
}

// POST /api/aggregations/recompute
func (h *IngestHandler) RecomputeAggregations(c *gin.Context) {
	report, err := h.agg.RecomputeAggregations(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "aggregation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"report": report})
}

// GET /api/retry-queue
func (h *IngestHandler) ListRetryQueue(c *gin.Context) {
	if h.retry == nil {
		response.RespondOK(c, gin.H{"papers": []redisclient.FailedPaper{}})
		return
	}
	papers, err := h.retry.List(c.Request.Context(), 100)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "retry_queue_unavailable", err)
		return
	}
	response.RespondOK(c, gin.H{"papers": papers})
}

// POST /api/retry-queue/drain requeues parked papers onto the worker pool.
func (h *IngestHandler) DrainRetryQueue(c *gin.Context) {
	if h.retry == nil {
		response.RespondOK(c, gin.H{"requeued": 0})
		return
	}
	requeued := 0
	for {
		paper, err := h.retry.Pop(c.Request.Context())
		if err != nil {
			response.RespondError(c, http.StatusInternalServerError, "retry_queue_unavailable", err)
			return
		}
		if paper == nil {
			break
		}
		if err := h.pool.Enqueue(worker.PaperJob{PaperID: paper.PaperID, Records: paper.Records}); err != nil {
			// Queue is full; put the paper back and stop draining.
			_ = h.retry.Push(c.Request.Context(), *paper)
			break
		}
		requeued++
	}
	response.RespondOK(c, gin.H{"requeued": requeued})
}
