package healthcheck

import (
	"sort"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Lister is the read side of the registry the aggregator needs.
type Lister interface {
	AllServices() []registry.Instance
}

type ServiceHealth struct {
	Name             string `json:"name"`
	Status           Status `json:"status"`
	Instances        int    `json:"instances"`
	HealthyInstances int    `json:"healthy_instances"`
}

type Report struct {
	Status   Status          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// Aggregator derives service health from registry state. It never writes to
// the registry.
type Aggregator struct {
	services Lister
}

func NewAggregator(services Lister) *Aggregator {
	return &Aggregator{services: services}
}

// OverallHealth groups instances by service name. A service with no healthy
// instance is unhealthy, one with some is degraded. The overall status is the
// worst service status, and healthy when nothing is registered.
func (a *Aggregator) OverallHealth() Report {
	groups := make(map[string]*ServiceHealth)
	for _, instance := range a.services.AllServices() {
		group, ok := groups[instance.Name]
		if !ok {
			group = &ServiceHealth{Name: instance.Name}
			groups[instance.Name] = group
		}
		group.Instances++
		if instance.IsHealthy() {
			group.HealthyInstances++
		}
	}

	report := Report{
		Status:   StatusHealthy,
		Services: make([]ServiceHealth, 0, len(groups)),
	}

	for _, group := range groups {
		switch {
		case group.HealthyInstances == 0:
			group.Status = StatusUnhealthy
		case group.HealthyInstances < group.Instances:
			group.Status = StatusDegraded
		default:
			group.Status = StatusHealthy
		}

		report.Status = worst(report.Status, group.Status)
		report.Services = append(report.Services, *group)
	}

	sort.Slice(report.Services, func(i, j int) bool {
		return report.Services[i].Name < report.Services[j].Name
	})

	return report
}

func worst(a, b Status) Status {
	if a == StatusUnhealthy || b == StatusUnhealthy {
		return StatusUnhealthy
	}
	if a == StatusDegraded || b == StatusDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
