package config

// TracingConfig configures OTLP trace export.
// Spans are shipped over OTLP HTTP to a local collector/agent; the collector
// owns authentication and forwarding, so no credentials live here.
type TracingConfig struct {
	// Enabled turns tracing on. Default: false.
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Endpoint is the OTLP HTTP endpoint (host:port). Default: localhost:4318.
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`

	// ServiceName is reported as service.name on every span.
	ServiceName string `mapstructure:"service_name" json:"service_name"`

	// Environment is reported as deployment.environment, if set.
	Environment string `mapstructure:"environment" json:"environment"`
}
