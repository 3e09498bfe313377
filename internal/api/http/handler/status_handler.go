package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/platform/training/trainer"
	"github.com/openeeap/haloalign/pkg/types"
)

// StatusHandler 训练进程的状态接口
type StatusHandler struct {
	progress trainer.ProgressReporter
	runName  string
	runID    string
	version  string
	started  time.Time
	logger   logging.Logger
}

// NewStatusHandler 创建状态处理器，progress 为空时进度接口返回 503
func NewStatusHandler(progress trainer.ProgressReporter, runName, runID, version string, logger logging.Logger) *StatusHandler {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &StatusHandler{
		progress: progress,
		runName:  runName,
		runID:    runID,
		version:  version,
		started:  time.Now(),
		logger:   logger,
	}
}

// ProgressResponse 进度响应
type ProgressResponse struct {
	RunName string `json:"run_name"`
	RunID   string `json:"run_id"`
	trainer.Progress
}

// Info 服务信息
func (h *StatusHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "haloalign",
		"version": h.version,
		"run":     h.runName,
		"run_id":  h.runID,
	})
}

// Health 存活探针
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready 训练器构造完成后就绪
func (h *StatusHandler) Ready(c *gin.Context) {
	if h.progress == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "state": h.progress.Progress().State})
}

// Progress 计数、最近一次训练与评估指标以及状态
func (h *StatusHandler) Progress(c *gin.Context) {
	if h.progress == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	p := h.progress.Progress()
	if p.State == "" {
		p.State = types.RunStateInit
	}
	c.JSON(http.StatusOK, ProgressResponse{RunName: h.runName, RunID: h.runID, Progress: p})
}

//Personal.AI order the ending
