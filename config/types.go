package config

// Storage selects the key-value backend holding ledger state.
type Storage struct {
	Backend string `toml:"Backend" yaml:"backend"`
	Path    string `toml:"Path" yaml:"path"`
}

// Program carries the subscription program settings owned by the operator.
type Program struct {
	Admin               string `toml:"Admin" yaml:"admin"`
	DepositPerByte      uint64 `toml:"DepositPerByte" yaml:"depositPerByte"`
	LowAllowancePeriods uint64 `toml:"LowAllowancePeriods" yaml:"lowAllowancePeriods"`
	EventRetention      int    `toml:"EventRetention" yaml:"eventRetention"`
}

// RPC configures the HTTP interface.
type RPC struct {
	ListenAddress      string  `toml:"ListenAddress" yaml:"listenAddress"`
	JWTSecret          string  `toml:"JWTSecret" yaml:"jwtSecret"`
	JWTSecretEnv       string  `toml:"JWTSecretEnv" yaml:"jwtSecretEnv"`
	JWTIssuer          string  `toml:"JWTIssuer" yaml:"jwtIssuer"`
	JWTAudience        string  `toml:"JWTAudience" yaml:"jwtAudience"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond" yaml:"rateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst" yaml:"rateLimitBurst"`
	ReadTimeoutSecs    int     `toml:"ReadTimeoutSecs" yaml:"readTimeoutSecs"`
	WriteTimeoutSecs   int     `toml:"WriteTimeoutSecs" yaml:"writeTimeoutSecs"`
}

// Keeper configures the built-in keeper sweeping due agreements.
type Keeper struct {
	Enabled       bool    `toml:"Enabled" yaml:"enabled"`
	Address       string  `toml:"Address" yaml:"address"`
	Account       string  `toml:"Account" yaml:"account"`
	IntervalSecs  int     `toml:"IntervalSecs" yaml:"intervalSecs"`
	Concurrency   int     `toml:"Concurrency" yaml:"concurrency"`
	RatePerSecond float64 `toml:"RatePerSecond" yaml:"ratePerSecond"`
	MaxRetries    int     `toml:"MaxRetries" yaml:"maxRetries"`
	BatchLimit    int     `toml:"BatchLimit" yaml:"batchLimit"`
}

// EventStore configures the SQL archive of emitted events. An empty DSN
// disables it.
type EventStore struct {
	DSN string `toml:"DSN" yaml:"dsn"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sampleRatio"`
}

// Log configures the process logger.
type Log struct {
	Env        string `toml:"Env" yaml:"env"`
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
}

// Webhook configures signed event delivery to an operator endpoint. An empty
// endpoint disables it.
type Webhook struct {
	Endpoint  string   `toml:"Endpoint" yaml:"endpoint"`
	Secret    string   `toml:"Secret" yaml:"secret"`
	SecretEnv string   `toml:"SecretEnv" yaml:"secretEnv"`
	Topics    []string `toml:"Topics" yaml:"topics"`
}
