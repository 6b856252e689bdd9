package api

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/aggregation/internal/metrics"
)

// metricsHandler returns the collected metrics with runtime info
func (s *Server) metricsHandler(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metricData := metrics.GetMetricsCollector().GetMetrics()
	metricData["runtime"] = map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_bytes":       memStats.Alloc,
			"total_alloc_bytes": memStats.TotalAlloc,
			"sys_bytes":         memStats.Sys,
			"heap_objects":      memStats.HeapObjects,
			"gc_cycles":         memStats.NumGC,
		},
	}

	c.JSON(http.StatusOK, metricData)
}

// healthHandler reports health from the error rate and database reachability
func (s *Server) healthHandler(c *gin.Context) {
	health := metrics.GetMetricsCollector().GetHealthStatus()

	statusCode := http.StatusOK
	if healthStatus, ok := health["status"].(map[string]interface{}); ok {
		if healthy, ok := healthStatus["healthy"].(bool); ok && !healthy {
			statusCode = http.StatusServiceUnavailable
		}
	}

	if s.db != nil {
		database := "ok"
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			database = err.Error()
			statusCode = http.StatusServiceUnavailable
		}
		health["database"] = database
	}

	c.JSON(statusCode, health)
}
