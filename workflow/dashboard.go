package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/config"
	"bitbucket.org/mmdatafocus/factoryops_backend/models"
)

const (
	dashboardCacheKey = "dashboard:machines"
	dashboardCacheTTL = 10 * time.Second
)

// DashboardView returns the sorted board, served from Redis when the cached
// projection is fresh. The cache is invalidated on every status write, so the
// TTL only bounds staleness when an invalidation is lost.
func DashboardView(ctx context.Context) ([]models.DashboardRow, error) {
	var rows []models.DashboardRow
	if hit, err := config.GetRedisObject(dashboardCacheKey, &rows); err == nil && hit {
		return rows, nil
	}

	machines, err := models.ListMachines(ctx)
	if err != nil {
		config.LogError(config.GetLogger(), "workflow", "DashboardView", "list machines", "", err)
		return nil, err
	}
	rows = models.ProjectDashboard(machines)

	if err := config.SetRedisObject(dashboardCacheKey, rows, dashboardCacheTTL); err != nil {
		config.LogError(config.GetLogger(), "workflow", "DashboardView", "cache set", dashboardCacheKey, err)
	}
	return rows, nil
}

func invalidateDashboardCache() {
	if err := config.RemoveRedisKey(dashboardCacheKey); err != nil {
		config.LogError(config.GetLogger(), "workflow", "invalidateDashboardCache", "cache del", dashboardCacheKey, err)
	}
}
