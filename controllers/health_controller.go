package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"safemap/utils"
)

const Version = "1.0.0"

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

type HealthController struct {
	checks    map[string]HealthCheck
	startedAt time.Time
}

func NewHealthController(checks map[string]HealthCheck) *HealthController {
	return &HealthController{
		checks:    checks,
		startedAt: time.Now(),
	}
}

// HealthCheck reports 503 when any dependency is unreachable so load
// balancers stop routing activations to a node that cannot persist them.
func (hc *HealthController) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	statuses := make(map[string]string, len(hc.checks))
	for name, check := range hc.checks {
		if err := check(ctx); err != nil {
			statuses[name] = "unhealthy: " + err.Error()
			continue
		}
		statuses[name] = "healthy"
	}

	resp := utils.HealthCheckResponse(statuses, Version, utils.FormatDuration(time.Since(hc.startedAt)))
	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
