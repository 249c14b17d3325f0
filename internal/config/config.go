package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/nimasrn/smpp-transport/pkg/pg"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config is populated once from the process environment (optionally seeded
// from a .env file). Components receive values from it rather than reading env.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=smpp_transport"`
	AppDebug            bool   `env:"APP_DEBUG"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR,default=:9100"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`

	LogLevel string `env:"LOG_LEVEL"`
	LogFile  string `env:"LOG_FILE"`

	HttpListenAddr            string `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpBaseRequestUrl        string `env:"HTTP_BASE_REQUEST_URI,default=/api/v1"`
	HttpServerReadTimeout     int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerReadBufferSize  int    `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int    `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	PostgresSSLMode         string        `env:"POSTGRES_SSLMODE,default=disable"`
	PostgresMaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS,default=20"`
	PostgresMaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS,default=5"`
	PostgresConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME,default=30m"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE,default=smpp_transport"`

	QueueName              string        `env:"QUEUE_NAME,default=sms:outbound"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=sms-workers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxDeliveries     int           `env:"QUEUE_MAX_DELIVERIES,default=10"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=2m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=200ms"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueDLQMaxLen         int64         `env:"QUEUE_DLQ_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	SmppHost               string        `env:"SMPP_HOST,default=localhost"`
	SmppPort               int           `env:"SMPP_PORT,default=2775"`
	SmppSystemID           string        `env:"SMPP_SYSTEM_ID"`
	SmppPassword           string        `env:"SMPP_PASSWORD"`
	SmppSystemType         string        `env:"SMPP_SYSTEM_TYPE"`
	SmppSourceAddr         string        `env:"SMPP_SOURCE_ADDR"`
	SmppSourceTON          int           `env:"SMPP_SOURCE_TON,default=-1"`
	SmppSourceNPI          int           `env:"SMPP_SOURCE_NPI,default=-1"`
	SmppBindMode           string        `env:"SMPP_BIND_MODE,default=transceiver"`
	SmppBindTON            int           `env:"SMPP_BIND_TON,default=0"`
	SmppBindNPI            int           `env:"SMPP_BIND_NPI,default=0"`
	SmppServiceType        string        `env:"SMPP_SERVICE_TYPE"`
	SmppEnquireInterval    time.Duration `env:"SMPP_ENQUIRE_INTERVAL,default=30s"`
	SmppEnquireTimeout     time.Duration `env:"SMPP_ENQUIRE_TIMEOUT,default=10s"`
	SmppSubmitTimeout      time.Duration `env:"SMPP_SUBMIT_TIMEOUT,default=10s"`
	SmppBindTimeout        time.Duration `env:"SMPP_BIND_TIMEOUT,default=10s"`
	SmppBackoffInitial     time.Duration `env:"SMPP_BACKOFF_INITIAL,default=1s"`
	SmppBackoffMax         time.Duration `env:"SMPP_BACKOFF_MAX,default=1m"`
	SmppBackoffMultiplier  float64       `env:"SMPP_BACKOFF_MULTIPLIER,default=2"`
	SmppStabilityWindow    time.Duration `env:"SMPP_STABILITY_WINDOW,default=30s"`
	SmppRegisteredDelivery int           `env:"SMPP_REGISTERED_DELIVERY,default=1"`
	SmppGSM7Packed         bool          `env:"SMPP_GSM7_PACKED,default=true"`

	WorkerConcurrency         int           `env:"WORKER_CONCURRENCY,default=16"`
	WorkerMaxAttempts         int           `env:"WORKER_MAX_ATTEMPTS,default=5"`
	WorkerRetryBaseDelay      time.Duration `env:"WORKER_RETRY_BASE_DELAY,default=2s"`
	WorkerRetryMaxDelay       time.Duration `env:"WORKER_RETRY_MAX_DELAY,default=5m"`
	WorkerNotBoundBackoff     time.Duration `env:"WORKER_NOT_BOUND_BACKOFF,default=1s"`
	WorkerMaxLifetime         time.Duration `env:"WORKER_MAX_LIFETIME,default=48h"`
	WorkerExpirySweepInterval time.Duration `env:"WORKER_EXPIRY_SWEEP_INTERVAL,default=1m"`

	DlrMappingTTL time.Duration `env:"DLR_MAPPING_TTL,default=72h"`
	DlrMissGrace  time.Duration `env:"DLR_MISS_GRACE,default=2s"`
}

// SmppAddr is the gateway dial address.
func (c *Config) SmppAddr() string {
	return net.JoinHostPort(c.SmppHost, strconv.Itoa(c.SmppPort))
}

// PostgresRead is the replica connection; an empty host makes reads share the writer.
func (c *Config) PostgresRead() pg.Config {
	return c.postgres(c.PostgresReadHost, c.PostgresReadPort, c.PostgresReadUser, c.PostgresReadPassword, c.PostgresReadDatabase)
}

func (c *Config) PostgresWrite() pg.Config {
	return c.postgres(c.PostgresWriteHost, c.PostgresWritePort, c.PostgresWriteUser, c.PostgresWritePassword, c.PostgresWriteDatabase)
}

func (c *Config) postgres(host, port, user, password, database string) pg.Config {
	return pg.Config{
		Host:            host,
		Port:            port,
		User:            user,
		Password:        password,
		Database:        database,
		SSLMode:         c.PostgresSSLMode,
		MaxOpenConns:    c.PostgresMaxOpenConns,
		MaxIdleConns:    c.PostgresMaxIdleConns,
		ConnMaxLifetime: c.PostgresConnMaxLifetime,
	}
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}
	if c.QueueConsumerName == "" {
		host, _ := os.Hostname()
		c.QueueConsumerName = host + "-" + strconv.Itoa(os.Getpid())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
