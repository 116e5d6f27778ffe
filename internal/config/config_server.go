package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/internal/errs"
	"github.com/and161185/netdata-proxy/internal/normalize"
	"github.com/and161185/netdata-proxy/internal/pipeline"
	"github.com/and161185/netdata-proxy/model"
)

// Sink kinds.
const (
	SinkClickHouse = "clickhouse"
	SinkTimescale  = "timescale"
	SinkGraph      = "graph"
	SinkMemory     = "memory"
)

// ClickHouseConfig holds the columnar store connection settings.
type ClickHouseConfig struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	Table       string
	CreateTable bool // run the table DDL on startup
}

// GraphConfig holds the record-mutation API settings.
type GraphConfig struct {
	URL        string
	Token      string
	Collection string
}

// ServerConfig holds the configuration settings for the proxy.
type ServerConfig struct {
	Addr           string // HTTP listen address
	TCPAddr        string // TCP listener for columnar sinks
	TCPAvgAddr     string // TCP listener tagging rows AVG (graph sink)
	TCPMaxAddr     string // TCP listener tagging rows MAX (graph sink)
	Sink           string
	ClickHouse     ClickHouseConfig
	DatabaseDSN    string // PostgreSQL/TimescaleDB connection string
	TimescaleTable string
	Graph          GraphConfig
	MemoryDump     string // file the memory sink writes on shutdown
	BatchSize      int
	SinkTimeout    time.Duration
	MaxBodyBytes   int64
	SelfHostname   string // replacement for the %H hostname placeholder
	TrustedSubnet  string // CIDR, ex. "192.168.1.0/24"
	LogLevel       string
	LogFile        string
	Logger         *zap.SugaredLogger
}

// TCPListener is one TCP address and the aggregation it tags rows with.
type TCPListener struct {
	Addr        string
	Aggregation model.Aggregation
}

type serverFile struct {
	Address            *string `json:"address" yaml:"address"`
	TCPAddress         *string `json:"tcp_address" yaml:"tcp_address"`
	TCPAvgAddress      *string `json:"tcp_avg_address" yaml:"tcp_avg_address"`
	TCPMaxAddress      *string `json:"tcp_max_address" yaml:"tcp_max_address"`
	Sink               *string `json:"sink" yaml:"sink"`
	ClickHouseAddr     *string `json:"clickhouse_addr" yaml:"clickhouse_addr"`
	ClickHouseDatabase *string `json:"clickhouse_database" yaml:"clickhouse_database"`
	ClickHouseUser     *string `json:"clickhouse_user" yaml:"clickhouse_user"`
	ClickHousePassword *string `json:"clickhouse_password" yaml:"clickhouse_password"`
	ClickHouseTable    *string `json:"clickhouse_table" yaml:"clickhouse_table"`
	ClickHouseCreate   *bool   `json:"clickhouse_create_table" yaml:"clickhouse_create_table"`
	DatabaseDSN        *string `json:"database_dsn" yaml:"database_dsn"`
	TimescaleTable     *string `json:"timescale_table" yaml:"timescale_table"`
	GraphURL           *string `json:"graph_api_url" yaml:"graph_api_url"`
	GraphToken         *string `json:"graph_api_token" yaml:"graph_api_token"`
	GraphCollection    *string `json:"graph_collection" yaml:"graph_collection"`
	MemoryDump         *string `json:"memory_dump_file" yaml:"memory_dump_file"`
	BatchSize          *string `json:"batch_size" yaml:"batch_size"`
	SinkTimeout        *string `json:"sink_timeout" yaml:"sink_timeout"` // "120s"
	MaxBodyBytes       *int64  `json:"max_body_bytes" yaml:"max_body_bytes"`
	SelfHostname       *string `json:"self_hostname_replacement" yaml:"self_hostname_replacement"`
	TrustedSubnet      *string `json:"trusted_subnet" yaml:"trusted_subnet"`
	LogLevel           *string `json:"log_level" yaml:"log_level"`
	LogFile            *string `json:"log_file" yaml:"log_file"`
}

func defaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:           ":8081",
		TCPAddr:        ":8082",
		TCPAvgAddr:     ":8082",
		TCPMaxAddr:     ":8083",
		Sink:           SinkMemory,
		ClickHouse:     ClickHouseConfig{Database: "default", Table: "netdata_metrics"},
		TimescaleTable: "netdata_metrics",
		Graph:          GraphConfig{Collection: "netdataMetric"},
		BatchSize:      pipeline.DefaultBatchSize,
		SinkTimeout:    120 * time.Second,
		MaxBodyBytes:   10 << 20,
		SelfHostname:   normalize.DefaultSelfHostReplacement,
		LogLevel:       "info",
	}
}

// NewServerConfig parses os.Args and the environment and builds the logger.
func NewServerConfig() (*ServerConfig, error) {
	return LoadServerConfig(os.Args[1:])
}

// LoadServerConfig resolves the configuration from args, the config file and the environment.
func LoadServerConfig(args []string) (*ServerConfig, error) {
	cfg := defaultServerConfig()

	fs := flag.NewFlagSet("proxy", flag.ContinueOnError)
	var fAddr, fTCP, fTCPAvg, fTCPMax, fSink, fCH, fDSN, fGraphURL, fTrusted, fLevel, fConf strFlag
	var fBatch intFlag
	var fTimeout durFlag
	fs.Var(&fAddr, "a", "HTTP listen address")
	fs.Var(&fTCP, "tcp", "TCP listen address (columnar sinks)")
	fs.Var(&fTCPAvg, "tcp-avg", "TCP listen address tagging rows AVG (graph sink)")
	fs.Var(&fTCPMax, "tcp-max", "TCP listen address tagging rows MAX (graph sink)")
	fs.Var(&fSink, "sink", "sink kind: clickhouse, timescale, graph or memory")
	fs.Var(&fCH, "clickhouse", "ClickHouse address host:port")
	fs.Var(&fDSN, "d", "PostgreSQL connection string")
	fs.Var(&fGraphURL, "graph-url", "GraphQL API endpoint")
	fs.Var(&fBatch, "b", "records per graph mutation")
	fs.Var(&fTimeout, "sink-timeout", "per-call sink timeout")
	fs.Var(&fTrusted, "t", "trusted subnet")
	fs.Var(&fLevel, "log-level", "log level")
	fs.Var(&fConf, "c", "Path to JSON or YAML config file")
	fs.Var(&fConf, "config", "Path to JSON or YAML config file (alias)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if path := configPath(fConf); path != "" {
		var file serverFile
		if err := loadFile(path, &file); err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrConfiguration, err)
		}
		if err := file.apply(cfg); err != nil {
			return nil, err
		}
	}

	setString(&cfg.Addr, fAddr)
	setString(&cfg.TCPAddr, fTCP)
	setString(&cfg.TCPAvgAddr, fTCPAvg)
	setString(&cfg.TCPMaxAddr, fTCPMax)
	setString(&cfg.Sink, fSink)
	setString(&cfg.ClickHouse.Addr, fCH)
	setString(&cfg.DatabaseDSN, fDSN)
	setString(&cfg.Graph.URL, fGraphURL)
	setString(&cfg.TrustedSubnet, fTrusted)
	setString(&cfg.LogLevel, fLevel)
	if fBatch.set {
		cfg.BatchSize = fBatch.v
	}
	if fTimeout.set {
		cfg.SinkTimeout = fTimeout.v
	}

	if err := readServerEnvironment(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrConfiguration, err)
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrConfiguration, err)
	}
	cfg.Logger = logger
	return cfg, nil
}

func setString(dst *string, f strFlag) {
	if f.set {
		*dst = f.v
	}
}

func (f *serverFile) apply(cfg *ServerConfig) error {
	strs := []struct {
		src *string
		dst *string
	}{
		{f.Address, &cfg.Addr},
		{f.TCPAddress, &cfg.TCPAddr},
		{f.TCPAvgAddress, &cfg.TCPAvgAddr},
		{f.TCPMaxAddress, &cfg.TCPMaxAddr},
		{f.Sink, &cfg.Sink},
		{f.ClickHouseAddr, &cfg.ClickHouse.Addr},
		{f.ClickHouseDatabase, &cfg.ClickHouse.Database},
		{f.ClickHouseUser, &cfg.ClickHouse.Username},
		{f.ClickHousePassword, &cfg.ClickHouse.Password},
		{f.ClickHouseTable, &cfg.ClickHouse.Table},
		{f.DatabaseDSN, &cfg.DatabaseDSN},
		{f.TimescaleTable, &cfg.TimescaleTable},
		{f.GraphURL, &cfg.Graph.URL},
		{f.GraphToken, &cfg.Graph.Token},
		{f.GraphCollection, &cfg.Graph.Collection},
		{f.MemoryDump, &cfg.MemoryDump},
		{f.SelfHostname, &cfg.SelfHostname},
		{f.TrustedSubnet, &cfg.TrustedSubnet},
		{f.LogLevel, &cfg.LogLevel},
		{f.LogFile, &cfg.LogFile},
	}
	for _, s := range strs {
		if s.src != nil {
			*s.dst = *s.src
		}
	}

	if f.ClickHouseCreate != nil {
		cfg.ClickHouse.CreateTable = *f.ClickHouseCreate
	}
	if f.BatchSize != nil {
		cfg.BatchSize = pipeline.CoerceBatchSize(*f.BatchSize)
	}
	if f.SinkTimeout != nil {
		d, err := parseDuration(*f.SinkTimeout)
		if err != nil {
			return fmt.Errorf("%w: invalid sink_timeout: %w", errs.ErrConfiguration, err)
		}
		cfg.SinkTimeout = d
	}
	if f.MaxBodyBytes != nil {
		cfg.MaxBodyBytes = *f.MaxBodyBytes
	}
	return nil
}

func readServerEnvironment(cfg *ServerConfig) error {
	envString("ADDRESS", &cfg.Addr)
	envString("TCP_ADDRESS", &cfg.TCPAddr)
	envString("TCP_AVG_ADDRESS", &cfg.TCPAvgAddr)
	envString("TCP_MAX_ADDRESS", &cfg.TCPMaxAddr)
	envString("SINK", &cfg.Sink)
	envString("CLICKHOUSE_ADDR", &cfg.ClickHouse.Addr)
	envString("CLICKHOUSE_DATABASE", &cfg.ClickHouse.Database)
	envString("CLICKHOUSE_USER", &cfg.ClickHouse.Username)
	envString("CLICKHOUSE_PASSWORD", &cfg.ClickHouse.Password)
	envString("CLICKHOUSE_TABLE", &cfg.ClickHouse.Table)
	envString("DATABASE_DSN", &cfg.DatabaseDSN)
	envString("TIMESCALE_TABLE", &cfg.TimescaleTable)
	envString("GRAPH_API_URL", &cfg.Graph.URL)
	envString("GRAPH_API_TOKEN", &cfg.Graph.Token)
	envString("GRAPH_COLLECTION", &cfg.Graph.Collection)
	envString("MEMORY_DUMP_FILE", &cfg.MemoryDump)
	envString("SELF_HOSTNAME_REPLACEMENT", &cfg.SelfHostname)
	envString("TRUSTED_SUBNET", &cfg.TrustedSubnet)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("LOG_FILE", &cfg.LogFile)

	if v, ok := os.LookupEnv("BATCH_SIZE"); ok {
		cfg.BatchSize = pipeline.CoerceBatchSize(v)
	}

	var maxBody int
	err := errors.Join(
		envBool("CLICKHOUSE_CREATE_TABLE", &cfg.ClickHouse.CreateTable),
		envDuration("SINK_TIMEOUT", &cfg.SinkTimeout),
		envInt("MAX_BODY_BYTES", &maxBody),
	)
	if maxBody > 0 {
		cfg.MaxBodyBytes = int64(maxBody)
	}
	return err
}

// Validate checks the settings that would make startup impossible.
// A missing graph token is not one of them: it fails each event instead.
func (cfg *ServerConfig) Validate() error {
	switch cfg.Sink {
	case SinkMemory:
	case SinkClickHouse:
		if cfg.ClickHouse.Addr == "" {
			return fmt.Errorf("%w: CLICKHOUSE_ADDR is required for the clickhouse sink", errs.ErrConfiguration)
		}
	case SinkTimescale:
		if cfg.DatabaseDSN == "" {
			return fmt.Errorf("%w: DATABASE_DSN is required for the timescale sink", errs.ErrConfiguration)
		}
	case SinkGraph:
		if cfg.Graph.URL == "" {
			return fmt.Errorf("%w: GRAPH_API_URL is required for the graph sink", errs.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown sink %q", errs.ErrConfiguration, cfg.Sink)
	}
	if cfg.SinkTimeout <= 0 {
		return fmt.Errorf("%w: sink timeout must be positive", errs.ErrConfiguration)
	}
	return nil
}

// IsGraph reports whether rows go to the record-mutation API.
func (cfg *ServerConfig) IsGraph() bool {
	return cfg.Sink == SinkGraph
}

// DefaultAggregation is the tag applied by POST / and untagged listeners.
func (cfg *ServerConfig) DefaultAggregation() model.Aggregation {
	if cfg.IsGraph() {
		return model.AggregationAvg
	}
	return model.AggregationNone
}

// Precision is the timestamp granularity the configured sink stores.
func (cfg *ServerConfig) Precision() time.Duration {
	if cfg.IsGraph() {
		return normalize.GraphPrecision
	}
	return normalize.ColumnarPrecision
}

// TCPListeners lists the TCP addresses to bind with their fixed aggregation.
func (cfg *ServerConfig) TCPListeners() []TCPListener {
	if cfg.IsGraph() {
		return []TCPListener{
			{Addr: cfg.TCPAvgAddr, Aggregation: model.AggregationAvg},
			{Addr: cfg.TCPMaxAddr, Aggregation: model.AggregationMax},
		}
	}
	return []TCPListener{{Addr: cfg.TCPAddr, Aggregation: model.AggregationNone}}
}
