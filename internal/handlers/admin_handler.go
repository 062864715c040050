package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/predolabs/predo-bot/internal/services"
	"github.com/predolabs/predo-bot/pkg/queue"
	"go.uber.org/zap"
)

// AdminHandler exposes the operator maintenance surface: login, queue
// health and the retry-all-failed-jobs escape hatch.
type AdminHandler struct {
	auth   *services.AuthService
	queues []*queue.Queue
	log    *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(auth *services.AuthService, queues []*queue.Queue, log *zap.Logger) *AdminHandler {
	return &AdminHandler{auth: auth, queues: queues, log: log.Named("admin")}
}

// Login handles POST /api/v1/auth/login
func (h *AdminHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	token, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// RetryFailedJobs handles POST /api/v1/admin/jobs/retry
func (h *AdminHandler) RetryFailedJobs(c *gin.Context) {
	requeued := map[string]int{}
	for _, q := range h.queues {
		n, err := q.RetryFailed(c.Request.Context())
		if err != nil {
			h.log.Error("retry failed jobs", zap.String("queue", q.Name()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to requeue jobs", "requeued": requeued})
			return
		}
		requeued[q.Name()] = n
	}
	c.JSON(http.StatusOK, gin.H{"requeued": requeued})
}

// QueueStats handles GET /api/v1/admin/queues
func (h *AdminHandler) QueueStats(c *gin.Context) {
	stats := map[string]queue.Counts{}
	for _, q := range h.queues {
		counts, err := q.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue stats"})
			return
		}
		stats[q.Name()] = counts
	}
	c.JSON(http.StatusOK, stats)
}
