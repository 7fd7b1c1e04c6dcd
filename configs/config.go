package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Prettify bool   `mapstructure:"prettify"`
}

type NetworkFamily string

const (
	FamilyEthereum NetworkFamily = "ethereum"
	FamilyL2       NetworkFamily = "l2"
	FamilyCosmos   NetworkFamily = "cosmos"
	FamilyPolkadot NetworkFamily = "polkadot"
)

// NetworkConfig describes one monitored network. Zero values fall back to the
// defaults of the network's family, see ApplyFamilyDefaults.
type NetworkConfig struct {
	Name                  string        `mapstructure:"name"`
	Family                NetworkFamily `mapstructure:"family"`
	ChainID               string        `mapstructure:"chainId"`
	RPCURL                string        `mapstructure:"rpcUrl"`
	Enabled               bool          `mapstructure:"enabled"`
	StartHeight           uint64        `mapstructure:"startHeight"`
	BatchSize             int           `mapstructure:"batchSize"`
	PollInterval          int           `mapstructure:"pollInterval"`
	ReorgDepth            int           `mapstructure:"reorgDepth"`
	RetryBudget           int           `mapstructure:"retryBudget"`
	FetchTimeout          int           `mapstructure:"fetchTimeout"`
	WriteTimeout          int           `mapstructure:"writeTimeout"`
	MaxConcurrentRequests int           `mapstructure:"maxConcurrentRequests"`
	HotWindow             uint64        `mapstructure:"hotWindow"`
	// RetentionDays is nil when unset; 0 keeps the ledger forever
	RetentionDays         *int          `mapstructure:"retentionDays"`
}

type IngesterConfig struct {
	BackoffBase     int     `mapstructure:"backoffBase"`
	BackoffCap      int     `mapstructure:"backoffCap"`
	ThroughputAlpha float64 `mapstructure:"throughputAlpha"`
	HashCacheSize   int     `mapstructure:"hashCacheSize"`
	PublishBlocks   bool    `mapstructure:"publishBlocks"`
}

type StorageConfig struct {
	Ledger     LedgerStorageConfig     `mapstructure:"ledger"`
	Checkpoint CheckpointStorageConfig `mapstructure:"checkpoint"`
	Aggregates AggregateStorageConfig  `mapstructure:"aggregates"`
	Cold       ColdStorageConfig       `mapstructure:"cold"`
}

type LedgerStorageConfig struct {
	Driver   string          `mapstructure:"driver"`
	Postgres *PostgresConfig `mapstructure:"postgres"`
}

type CheckpointStorageConfig struct {
	Driver   string          `mapstructure:"driver"`
	Postgres *PostgresConfig `mapstructure:"postgres"`
	Badger   *BadgerConfig   `mapstructure:"badger"`
}

type AggregateStorageConfig struct {
	Driver     string            `mapstructure:"driver"`
	Postgres   *PostgresConfig   `mapstructure:"postgres"`
	Clickhouse *ClickhouseConfig `mapstructure:"clickhouse"`
}

type ColdStorageConfig struct {
	Driver string        `mapstructure:"driver"`
	S3     *S3Config     `mapstructure:"s3"`
	Pebble *PebbleConfig `mapstructure:"pebble"`
}

type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"sslMode"`
	MaxOpenConns    int    `mapstructure:"maxOpenConns"`
	MaxIdleConns    int    `mapstructure:"maxIdleConns"`
	MaxConnLifetime int    `mapstructure:"maxConnLifetime"`
	ConnectTimeout  int    `mapstructure:"connectTimeout"`
}

type ClickhouseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	DisableTLS   bool   `mapstructure:"disableTLS"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
	MaxIdleConns int    `mapstructure:"maxIdleConns"`
}

type BadgerConfig struct {
	Path string `mapstructure:"path"`
}

type PebbleConfig struct {
	Path string `mapstructure:"path"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"accessKeyId"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
	Endpoint        string `mapstructure:"endpoint"`
	Compression     string `mapstructure:"compression"`
}

type TieringConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Interval           int    `mapstructure:"interval"`
	HotWindow          uint64 `mapstructure:"hotWindow"`
	ExtentSize         uint64 `mapstructure:"extentSize"`
	MaxExtentsPerSweep int    `mapstructure:"maxExtentsPerSweep"`
	BytesPerSecond     int    `mapstructure:"bytesPerSecond"`
}

type AggregationConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Interval int  `mapstructure:"interval"`
}

type RetentionConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	Interval               int  `mapstructure:"interval"`
	AggregateRetentionDays int  `mapstructure:"aggregateRetentionDays"`
}

type KafkaConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Brokers         string   `mapstructure:"brokers"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	EnableTLS       bool     `mapstructure:"enableTLS"`
	CheckpointTopic string   `mapstructure:"checkpointTopic"`
	BlockTopic      string   `mapstructure:"blockTopic"`
	ExtraTopics     []string `mapstructure:"extraTopics"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	EnableTLS bool   `mapstructure:"enableTLS"`
	Channel   string `mapstructure:"channel"`
	HashKey   string `mapstructure:"hashKey"`
}

type PublisherConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
	Redis RedisConfig `mapstructure:"redis"`
}

type BasicAuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type APIConfig struct {
	Host                 string          `mapstructure:"host"`
	Port                 int             `mapstructure:"port"`
	BasicAuth            BasicAuthConfig `mapstructure:"basicAuth"`
	DefaultTimeRangeDays int             `mapstructure:"defaultTimeRangeDays"`
}

type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Networks    []NetworkConfig   `mapstructure:"networks"`
	Ingester    IngesterConfig    `mapstructure:"ingester"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Tiering     TieringConfig     `mapstructure:"tiering"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Publisher   PublisherConfig   `mapstructure:"publisher"`
	API         APIConfig         `mapstructure:"api"`
}

var Cfg Config

func LoadConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file, %s", err)
		}
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("./configs")
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file, %s", err)
		}

		viper.SetConfigName("secrets")
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("error loading secrets file: %v", err)
			}
		}
	}

	// sets e.g. TIERING_HOTWINDOW to tiering.hotWindow
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	err := viper.Unmarshal(&Cfg)
	if err != nil {
		return fmt.Errorf("error unmarshalling config: %v", err)
	}

	for i := range Cfg.Networks {
		Cfg.Networks[i].ApplyFamilyDefaults()
	}
	return Cfg.Validate()
}

func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Networks))
	for _, n := range c.Networks {
		if n.Name == "" {
			return fmt.Errorf("network without a name")
		}
		if _, ok := seen[n.Name]; ok {
			return fmt.Errorf("network %s configured twice", n.Name)
		}
		seen[n.Name] = struct{}{}
		if _, ok := familyDefaults[n.Family]; !ok {
			return fmt.Errorf("network %s has unknown family %q", n.Name, n.Family)
		}
	}
	return nil
}

// Network returns the config of the named network
func (c *Config) Network(name string) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

func (n NetworkConfig) PollIntervalDuration() time.Duration {
	return time.Duration(n.PollInterval) * time.Millisecond
}

func (n NetworkConfig) FetchTimeoutDuration() time.Duration {
	return time.Duration(n.FetchTimeout) * time.Millisecond
}

// Retention returns the ledger retention period, or false when deletion is disabled
func (n NetworkConfig) Retention() (time.Duration, bool) {
	if n.RetentionDays == nil || *n.RetentionDays <= 0 {
		return 0, false
	}
	return time.Duration(*n.RetentionDays) * 24 * time.Hour, true
}

func (n NetworkConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(n.WriteTimeout) * time.Millisecond
}
