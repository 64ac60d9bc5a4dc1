// Package config defines the configuration surface of spec §6, following
// the teacher's own convention of a flags-tagged struct parsed by
// github.com/jessevdk/go-flags (see go/runtime/flow_consumer.go's
// FlowConsumerConfig).
package config

import "time"

// Config is the full set of options recognized by the test-probe server.
type Config struct {
	Server struct {
		Addr string `long:"addr" env:"ADDR" default:":8080" description:"HTTP listen address for the REST boundary"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	Queue struct {
		MaxConcurrent    int           `long:"max-concurrent" env:"MAX_CONCURRENT" default:"4" description:"Admission semaphore size"`
		AskTimeout       time.Duration `long:"ask-timeout" env:"ASK_TIMEOUT" default:"5s" description:"Default reply deadline for per-request actor asks"`
		StartupDeadline  time.Duration `long:"startup-deadline" env:"STARTUP_DEADLINE" default:"30s" description:"Upper bound on stream initialization"`
		Retention        time.Duration `long:"retention" env:"RETENTION" default:"24h" description:"How long terminal records remain queryable"`
		RetentionSweep   string        `long:"retention-sweep-cron" env:"RETENTION_SWEEP_CRON" default:"@every 5m" description:"Cron expression for the terminal-record eviction sweep"`
	} `group:"queue" namespace:"queue" env-namespace:"QUEUE"`

	Broker struct {
		DefaultBootstrapServers string        `long:"default-bootstrap-servers" env:"DEFAULT_BOOTSTRAP_SERVERS" description:"Used when a directive omits its own"`
		CommitBatchSize         int           `long:"commit-batch-size" env:"COMMIT_BATCH_SIZE" default:"20" description:"Consumer offset-commit batch size"`
		CommitInterval          time.Duration `long:"commit-interval" env:"COMMIT_INTERVAL" default:"5s" description:"Consumer offset-commit interval, whichever comes first"`
	} `group:"broker" namespace:"broker" env-namespace:"BROKER"`

	Schema struct {
		RegistryURL string `long:"registry-url" env:"REGISTRY_URL" description:"Schema registry base URL"`
		Backend     string `long:"backend" env:"BACKEND" default:"json" choice:"json" choice:"avro" choice:"protobuf" choice:"raw" description:"Wire codec backend"`
	} `group:"schema" namespace:"schema" env-namespace:"SCHEMA"`

	Storage struct {
		Provider    string `long:"provider" env:"PROVIDER" default:"local" choice:"local" choice:"s3" choice:"gcs" description:"Storage Port provider"`
		ScratchBase string `long:"scratch-base" env:"SCRATCH_BASE" default:"/var/tmp/test-probe" description:"Root directory for per-test scratch workspaces"`
	} `group:"storage" namespace:"storage" env-namespace:"STORAGE"`

	Vault struct {
		Provider       string   `long:"provider" env:"PROVIDER" default:"local" choice:"local" choice:"hashicorp" choice:"aws" description:"Vault Port provider"`
		LocalFile      string   `long:"local-file" env:"LOCAL_FILE" description:"YAML file of topic->credentials for the local Vault Port provider"`
		MountPrefix    string   `long:"mount-prefix" env:"MOUNT_PREFIX" default:"secret/data" description:"HashiCorp Vault KV mount prefix"`
		NamePrefix     string   `long:"name-prefix" env:"NAME_PREFIX" default:"test-probe" description:"AWS Secrets Manager secret name prefix"`
		RequiredFields []string `long:"required-field" env:"REQUIRED_FIELDS" env-delim:"," description:"Credential fields every topic's secret must contain; fetch fails otherwise"`
	} `group:"vault" namespace:"vault" env-namespace:"VAULT"`

	Features struct {
		RelativePath string `long:"relative-path" env:"RELATIVE_PATH" default:"features" description:"Bucket-relative path to the scenario feature files"`
	} `group:"features" namespace:"features" env-namespace:"FEATURES"`

	Manifest struct {
		RelativePath string `long:"relative-path" env:"RELATIVE_PATH" default:"topic-directives.yaml" description:"Bucket-relative path to the topic-directive manifest"`
	} `group:"manifest" namespace:"manifest" env-namespace:"MANIFEST"`

	Guardian struct {
		MaxRestarts int           `long:"max-restarts" env:"MAX_RESTARTS" default:"10" description:"Restart budget within Window before Guardian surfaces a fatal failure"`
		Window      time.Duration `long:"window" env:"WINDOW" default:"1m" description:"Sliding window over which MaxRestarts applies"`
	} `group:"guardian" namespace:"guardian" env-namespace:"GUARDIAN"`
}

// Default returns a Config populated with the same defaults go-flags would
// apply, for use by tests and by callers that construct a server without
// going through flag parsing.
func Default() *Config {
	var c Config
	c.Server.Addr = ":8080"
	c.Queue.MaxConcurrent = 4
	c.Queue.AskTimeout = 5 * time.Second
	c.Queue.StartupDeadline = 30 * time.Second
	c.Queue.Retention = 24 * time.Hour
	c.Queue.RetentionSweep = "@every 5m"
	c.Broker.CommitBatchSize = 20
	c.Broker.CommitInterval = 5 * time.Second
	c.Schema.Backend = "json"
	c.Storage.Provider = "local"
	c.Storage.ScratchBase = "/var/tmp/test-probe"
	c.Vault.Provider = "local"
	c.Vault.MountPrefix = "secret/data"
	c.Vault.NamePrefix = "test-probe"
	c.Vault.RequiredFields = []string{"username", "password"}
	c.Features.RelativePath = "features"
	c.Manifest.RelativePath = "topic-directives.yaml"
	c.Guardian.MaxRestarts = 10
	c.Guardian.Window = time.Minute
	return &c
}
