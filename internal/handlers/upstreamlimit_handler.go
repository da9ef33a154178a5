package handlers

import (
	"github.com/relaykit/ratelimitd/internal/upstreamlimit"
	"github.com/gin-gonic/gin"
)

// reportRequest is the JSON body for POST /v1/upstream/:account/report.
type reportRequest struct {
	Status     int    `json:"status" binding:"required"`
	RetryAfter string `json:"retryAfter"`
	Body       string `json:"body"`
	Model      string `json:"model"`
}

// UpstreamStatus returns the current lockout state for an account,
// optionally scoped to a model via the ?model= query parameter.
func UpstreamStatus(tracker *upstreamlimit.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := c.Param("account")
		model := c.Query("model")

		wait := tracker.RemainingWait(account, model)
		c.JSON(200, gin.H{
			"account":       account,
			"model":         model,
			"rateLimited":   wait > 0,
			"remainingWait": wait,
		})
	}
}

// UpstreamReportError classifies an upstream error response and records
// the resulting lockout against account (and model, when present).
func UpstreamReportError(tracker *upstreamlimit.Tracker, scheduleCfg *upstreamlimit.ScheduleConfigManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := c.Param("account")

		var req reportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		info, ok := tracker.ReportError(account, req.Status, req.RetryAfter, req.Body, req.Model, scheduleCfg.GetSchedule())
		if !ok {
			c.JSON(422, gin.H{"error": "status not recognized as an upstream rate-limit signal", "status": req.Status})
			return
		}
		c.JSON(200, gin.H{
			"account":       account,
			"model":         info.Model,
			"reason":        info.Reason.String(),
			"lockedUntil":   info.LockedUntil,
			"retryAfterSec": info.RetryAfterSec,
			"detectedAt":    info.DetectedAt,
		})
	}
}

// UpstreamMarkSuccess clears an account's account-wide lockout and its
// failure streak after a successful upstream call. Model-scoped lockouts
// are left in place.
func UpstreamMarkSuccess(tracker *upstreamlimit.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := c.Param("account")
		tracker.MarkSuccess(account)
		c.JSON(200, gin.H{"account": account, "cleared": true})
	}
}

// UpstreamClearAll wipes every tracked lockout, account-wide and
// model-scoped alike; failure streaks are kept. Intended for operator
// use (e.g. after a shared-credential rotation).
func UpstreamClearAll(tracker *upstreamlimit.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tracker.ClearAll()
		c.JSON(200, gin.H{"cleared": true})
	}
}

// GetBackoffSchedule returns the current QuotaExhausted escalation ladder.
func GetBackoffSchedule(scheduleCfg *upstreamlimit.ScheduleConfigManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{"quotaExhaustedSchedule": scheduleCfg.GetSchedule()})
	}
}

// UpdateBackoffSchedule validates and persists a new escalation ladder.
func UpdateBackoffSchedule(scheduleCfg *upstreamlimit.ScheduleConfigManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			QuotaExhaustedSchedule []uint64 `json:"quotaExhaustedSchedule"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if err := scheduleCfg.UpdateSchedule(body.QuotaExhaustedSchedule); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"quotaExhaustedSchedule": scheduleCfg.GetSchedule()})
	}
}
