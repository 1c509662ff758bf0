package registry

import (
	"maps"
	"net"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

const (
	// MetadataWeight is the metadata key read by weighted load balancing.
	MetadataWeight = "weight"

	DefaultHealthCheckPath = "/health"
)

// Instance is one running replica of a named service.
type Instance struct {
	ID              string            `json:"id" mapstructure:"id"`
	Name            string            `json:"name" mapstructure:"name"`
	Version         string            `json:"version" mapstructure:"version"`
	Host            string            `json:"host" mapstructure:"host"`
	Port            int               `json:"port" mapstructure:"port"`
	HealthCheckPath string            `json:"health_check_path" mapstructure:"health_check_path"`
	Metadata        map[string]string `json:"metadata,omitempty" mapstructure:"metadata"`
	RegisteredAt    time.Time         `json:"registered_at" mapstructure:"-"`
	LastHeartbeat   time.Time         `json:"last_heartbeat" mapstructure:"-"`
	Status          Status            `json:"status" mapstructure:"-"`
}

// Validate checks the fields a caller must supply on registration.
func (i Instance) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Name, validation.Required),
		validation.Field(&i.Host, validation.Required, is.Host),
		validation.Field(&i.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&i.HealthCheckPath, validation.By(validatePath)),
		validation.Field(&i.Status, validation.In(StatusHealthy, StatusUnhealthy, StatusUnknown)),
	)
}

func validatePath(value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if path != "" && !strings.HasPrefix(path, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}

	return nil
}

// Address returns host:port.
func (i Instance) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// URL returns the base URL requests to this instance are sent to.
func (i Instance) URL() string {
	return "http://" + i.Address()
}

// HealthURL returns the URL the health probe targets.
func (i Instance) HealthURL() string {
	path := i.HealthCheckPath
	if path == "" {
		path = DefaultHealthCheckPath
	}
	return i.URL() + path
}

// Weight returns the instance's load-balancing weight from its metadata,
// defaulting to 1 when absent or invalid.
func (i Instance) Weight() float64 {
	raw, ok := i.Metadata[MetadataWeight]
	if !ok {
		return 1
	}

	weight, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || weight <= 0 {
		return 1
	}

	return weight
}

// IsHealthy reports whether the instance is eligible for traffic.
func (i Instance) IsHealthy() bool {
	return i.Status == StatusHealthy
}

func (i Instance) clone() Instance {
	if i.Metadata != nil {
		i.Metadata = maps.Clone(i.Metadata)
	}
	return i
}
