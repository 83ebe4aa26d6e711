// Package config holds the typed runtime configuration. Defaults live here;
// the CLI binds flags, environment and file values over them with viper.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime is the full configuration of one maestro process.
type Runtime struct {
	HTTPAddr     string `yaml:"http_addr" mapstructure:"http_addr"`
	AdaptersFile string `yaml:"adapters_file" mapstructure:"adapters_file"`
	LogLevel     string `yaml:"log_level" mapstructure:"log_level"`

	SoftTaskCap      int `yaml:"soft_task_cap" mapstructure:"soft_task_cap"`
	WorkerPoolSize   int `yaml:"worker_pool_size" mapstructure:"worker_pool_size"`
	ReviewerPoolSize int `yaml:"reviewer_pool_size" mapstructure:"reviewer_pool_size"`
	EventBufferSize  int `yaml:"event_buffer_size" mapstructure:"event_buffer_size"`

	RoleExecutionTimeout time.Duration `yaml:"role_execution_timeout" mapstructure:"role_execution_timeout"`
	MaxRetriesPerTask    int           `yaml:"max_retries_per_task" mapstructure:"max_retries_per_task"`

	ReviewConsensusCount int    `yaml:"review_consensus_count" mapstructure:"review_consensus_count"`
	ConsensusStrategy    string `yaml:"consensus_strategy" mapstructure:"consensus_strategy"`

	DefaultMaxSubTaskDepth int  `yaml:"default_max_subtask_depth" mapstructure:"default_max_subtask_depth"`
	OrchestratorMode       bool `yaml:"orchestrator_mode" mapstructure:"orchestrator_mode"`

	AdapterCircuitThreshold      int           `yaml:"adapter_circuit_threshold" mapstructure:"adapter_circuit_threshold"`
	AdapterCircuitDuration       time.Duration `yaml:"adapter_circuit_duration" mapstructure:"adapter_circuit_duration"`
	QualityConcernRetryThreshold int           `yaml:"quality_concern_retry_threshold" mapstructure:"quality_concern_retry_threshold"`

	Observability Observability `yaml:"observability" mapstructure:"observability"`
}

// Observability configures tracing and metric export.
type Observability struct {
	TracingEnabled bool   `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
	TraceExporter  string `yaml:"trace_exporter" mapstructure:"trace_exporter"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	ZipkinEndpoint string `yaml:"zipkin_endpoint" mapstructure:"zipkin_endpoint"`
	SampleRatio    float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
	MetricsEnabled bool    `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`
	ServiceName    string  `yaml:"service_name" mapstructure:"service_name"`
}

// Default returns the runtime configuration with every knob at its default.
func Default() Runtime {
	return Runtime{
		HTTPAddr:                     ":8099",
		AdaptersFile:                 "adapters.yaml",
		LogLevel:                     "info",
		SoftTaskCap:                  64,
		WorkerPoolSize:               4,
		ReviewerPoolSize:             2,
		EventBufferSize:              200,
		RoleExecutionTimeout:         300 * time.Second,
		MaxRetriesPerTask:            3,
		ReviewConsensusCount:         1,
		ConsensusStrategy:            "majority",
		DefaultMaxSubTaskDepth:       3,
		AdapterCircuitThreshold:      3,
		AdapterCircuitDuration:       5 * time.Minute,
		QualityConcernRetryThreshold: 2,
		Observability: Observability{
			TraceExporter:  "otlp",
			SampleRatio:    1.0,
			MetricsEnabled: true,
			ServiceName:    "maestro",
		},
	}
}

// Validate rejects configurations the runtime cannot serve.
func (r Runtime) Validate() error {
	if r.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if r.ReviewConsensusCount < 1 {
		return fmt.Errorf("review_consensus_count must be at least 1, got %d", r.ReviewConsensusCount)
	}
	switch r.ConsensusStrategy {
	case "majority", "unanimous", "weighted":
	default:
		return fmt.Errorf("unknown consensus_strategy %q", r.ConsensusStrategy)
	}
	if r.EventBufferSize < 1 {
		return fmt.Errorf("event_buffer_size must be positive, got %d", r.EventBufferSize)
	}
	if r.DefaultMaxSubTaskDepth < 0 || r.DefaultMaxSubTaskDepth > 10 {
		return fmt.Errorf("default_max_subtask_depth must be in [0,10], got %d", r.DefaultMaxSubTaskDepth)
	}
	if r.WorkerPoolSize < 1 || r.ReviewerPoolSize < 1 {
		return fmt.Errorf("pool sizes must be positive")
	}
	if r.RoleExecutionTimeout <= 0 {
		return fmt.Errorf("role_execution_timeout must be positive")
	}
	if r.Observability.SampleRatio < 0 || r.Observability.SampleRatio > 1 {
		return fmt.Errorf("observability.sample_ratio must be in [0,1]")
	}
	return nil
}

// LoadFile overlays a YAML file on top of base. A missing file is not an
// error; the base is returned untouched.
func LoadFile(path string, base Runtime) (Runtime, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return Runtime{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Runtime{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
