package access

import (
	"sort"

	"consulting-crm/internal/models"

	"github.com/shopspring/decimal"
)

// Stats aggregates a visible set of applications.
type Stats struct {
	Total         int                   `json:"total"`
	ByStatus      map[models.Status]int `json:"byStatus"`
	TotalApplied  decimal.Decimal       `json:"totalApplied"`
	TotalApproved decimal.Decimal       `json:"totalApproved"`
}

// ClientGroup is one client's applications, in listing order.
type ClientGroup struct {
	Client       models.ClientRef     `json:"client"`
	Applications []models.Application `json:"applications"`
	TotalApplied decimal.Decimal      `json:"totalApplied"`
}

// Listing is the read-side projection returned to list views.
type Listing struct {
	Applications []models.Application `json:"applications"`
	Stats        Stats                `json:"stats"`
	Groups       []ClientGroup        `json:"groups"`
}

func NewListing(apps []models.Application) Listing {
	if apps == nil {
		apps = []models.Application{}
	}
	return Listing{
		Applications: apps,
		Stats:        Summarize(apps),
		Groups:       GroupByClient(apps),
	}
}

// Summarize counts every status, including those with no applications.
func Summarize(apps []models.Application) Stats {
	stats := Stats{
		ByStatus:      make(map[models.Status]int, len(models.Statuses)),
		TotalApplied:  decimal.Zero,
		TotalApproved: decimal.Zero,
	}
	for _, s := range models.Statuses {
		stats.ByStatus[s] = 0
	}

	for _, app := range apps {
		stats.Total++
		stats.ByStatus[app.Status]++
		stats.TotalApplied = stats.TotalApplied.Add(app.AppliedAmount)
		if app.ApprovedAmount != nil {
			stats.TotalApproved = stats.TotalApproved.Add(*app.ApprovedAmount)
		}
	}
	return stats
}

// GroupByClient groups by client, ordered by client name then ID.
func GroupByClient(apps []models.Application) []ClientGroup {
	index := make(map[string]int)
	groups := []ClientGroup{}

	for _, app := range apps {
		i, ok := index[app.Client.ID]
		if !ok {
			i = len(groups)
			index[app.Client.ID] = i
			groups = append(groups, ClientGroup{Client: app.Client, TotalApplied: decimal.Zero})
		}
		groups[i].Applications = append(groups[i].Applications, app)
		groups[i].TotalApplied = groups[i].TotalApplied.Add(app.AppliedAmount)
	}

	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].Client.Name != groups[b].Client.Name {
			return groups[a].Client.Name < groups[b].Client.Name
		}
		return groups[a].Client.ID < groups[b].Client.ID
	})
	return groups
}
