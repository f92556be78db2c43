package main

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/load_validator/config"
	"github.com/mmdatafocus/load_validator/models"
	"github.com/mmdatafocus/load_validator/models/reports"
	"github.com/mmdatafocus/load_validator/utils"
	"github.com/mmdatafocus/load_validator/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	maxBatchUploadBytes = 50 << 20
)

// loadAPI is everything the load endpoints need once backends are connected.
type loadAPI struct {
	evaluator workflow.LoadEvaluator
	ledger    models.LoadLedger
	limits    *config.LimitsStore
	opsToken  string
	logger    *logrus.Logger
}

// loadView is the history form of a record; amounts keep the "$123.45" wire format.
type loadView struct {
	Id                  string    `json:"id"`
	CustomerId          string    `json:"customer_id"`
	LoadAmount          string    `json:"load_amount"`
	Time                time.Time `json:"time"`
	Accepted            bool      `json:"accepted"`
	DailyLimitAccepted  bool      `json:"daily_limit_accepted"`
	WeeklyLimitAccepted bool      `json:"weekly_limit_accepted"`
	DailyCountAccepted  bool      `json:"daily_count_accepted"`
}

func newLoadView(r *models.LoadRecord) loadView {
	return loadView{
		Id:                  r.LoadId,
		CustomerId:          r.CustomerId,
		LoadAmount:          utils.FormatLoadAmount(r.LoadAmount),
		Time:                r.LoadTime.UTC(),
		Accepted:            r.Accepted(),
		DailyLimitAccepted:  r.DailyLimitAccepted,
		WeeklyLimitAccepted: r.WeeklyLimitAccepted,
		DailyCountAccepted:  r.DailyCountAccepted,
	}
}

func registerLoadRoutes(r gin.IRouter, current func() *loadAPI) {
	v1 := r.Group("/api/v1")
	v1.POST("/validation", withLoadAPI(current, (*loadAPI).validateLoad))
	v1.POST("/validation/process-file", withLoadAPI(current, (*loadAPI).processFile))
	v1.GET("/customers/:customerId/loads", withLoadAPI(current, (*loadAPI).listLoads))

	// Pub/Sub push intake (LOAD_PUBSUB_PUSH_ENABLED=true).
	if config.LoadPubSubPushEnabled() {
		r.POST("/pubsub/loads", withLoadAPI(current, (*loadAPI).loadPubSubHandler))
	}

	// Ops tooling: runtime limit changes. Only enabled with OPS_TOKEN.
	ops := r.Group("/internal/ops")
	ops.GET("/limits", withLoadAPI(current, (*loadAPI).getLimits))
	ops.PUT("/limits", withLoadAPI(current, (*loadAPI).putLimits))
}

func withLoadAPI(current func() *loadAPI, h func(*loadAPI, *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		api := current()
		if api == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service starting"})
			return
		}
		h(api, c)
	}
}

func badRequest(c *gin.Context, err error) {
	var verr *utils.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": verr.Fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (api *loadAPI) validateLoad(c *gin.Context) {
	var input models.NewLoadRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	req, err := input.Parse()
	if err != nil {
		badRequest(c, err)
		return
	}

	resp, err := api.evaluator.Evaluate(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load could not be decided"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// processFile runs an uploaded newline-delimited batch and returns output.txt.
func (api *loadAPI) processFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBatchUploadBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	var out bytes.Buffer
	summary, err := workflow.ProcessLoadBatch(ctx, api.evaluator, api.logger, file, &out)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "batch stopped before completion",
			"summary": summary,
		})
		return
	}

	objectName := fmt.Sprintf("batches/%s/%s-output.txt", time.Now().UTC().Format("2006-01-02"), uuid.NewString())
	if err := utils.ArchiveBatchOutput(ctx, objectName, out.Bytes()); err != nil {
		config.LogError(api.logger, "loadHandlers", "processFile", "archive batch output", objectName, err)
	}

	c.Header("Content-Disposition", "attachment; filename=output.txt")
	c.Header("x-batch-lines", strconv.Itoa(summary.Lines))
	c.Header("x-batch-skipped", strconv.Itoa(summary.Skipped))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", out.Bytes())
}

func (api *loadAPI) listLoads(c *gin.Context) {
	customerId := c.Param("customerId")
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := api.ledger.ListLoads(c.Request.Context(), customerId, limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load history unavailable"})
		return
	}

	if c.Query("format") == "xlsx" {
		var buf bytes.Buffer
		if err := reports.ExportLoadHistory(&buf, customerId, records); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=loads-%s.xlsx", customerId))
		c.Data(http.StatusOK, reports.ExcelContentType, buf.Bytes())
		return
	}

	views := make([]loadView, 0, len(records))
	for _, r := range records {
		views = append(views, newLoadView(r))
	}
	c.JSON(http.StatusOK, gin.H{"customer_id": customerId, "loads": views})
}

func (api *loadAPI) authorizeOps(c *gin.Context) bool {
	if api.opsToken == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
		return false
	}
	token := c.GetHeader("x-ops-token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(api.opsToken)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

func (api *loadAPI) getLimits(c *gin.Context) {
	if !api.authorizeOps(c) {
		return
	}
	c.JSON(http.StatusOK, api.limits.Limits())
}

// limitsRequest replaces all three limits at once; partial updates are rejected.
type limitsRequest struct {
	DailyAmount  *decimal.Decimal `json:"daily_amount"`
	WeeklyAmount *decimal.Decimal `json:"weekly_amount"`
	DailyCount   *int64           `json:"daily_count"`
}

func (api *loadAPI) putLimits(c *gin.Context) {
	if !api.authorizeOps(c) {
		return
	}
	var input limitsRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if input.DailyAmount == nil || input.WeeklyAmount == nil || input.DailyCount == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "daily_amount, weekly_amount and daily_count are required"})
		return
	}
	next := config.VelocityLimits{
		DailyAmount:  *input.DailyAmount,
		WeeklyAmount: *input.WeeklyAmount,
		DailyCount:   *input.DailyCount,
	}
	prev, err := api.limits.Swap(next)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	api.logger.WithFields(logrus.Fields{
		"previous": prev,
		"current":  next,
	}).Warn("velocity limits replaced")
	c.JSON(http.StatusOK, gin.H{"previous": prev, "current": next})
}
