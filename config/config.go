// Ininicializing common application configuration
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Waitlist  WaitlistConfig  `mapstructure:"waitlist"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	AppVersion     string        `mapstructure:"app_version"`
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	Timeout        time.Duration `mapstructure:"timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout int           `mapstructure:"request_timeout"` // в секундах
	Env            string        `mapstructure:"environment"`
	Mode           string        `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Настройки пула соединений
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

type WaitlistConfig struct {
	PromotionWindow time.Duration `mapstructure:"promotion_window"`
}

type WorkerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
}

type NotifierConfig struct {
	BufferSize  int           `mapstructure:"buffer_size"`
	Workers     int           `mapstructure:"workers"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Locale      string        `mapstructure:"locale"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type RabbitMQConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	QueueName string `mapstructure:"queue_name"`
}

type KafkaConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Brokers     string        `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	BufferSize  int           `mapstructure:"buffer_size"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func LoadConfig() (*viper.Viper, error) {
	// .env необязателен, переменные могут прийти из окружения контейнера
	_ = godotenv.Load()

	viperInstance := viper.New()

	viperInstance.AddConfigPath("./config")
	viperInstance.SetConfigName("config")
	viperInstance.SetConfigType("yaml")

	setDefaults(viperInstance)

	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	err := viperInstance.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return viperInstance, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {

	var c Config

	err := v.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &c, nil
}

// GetServerAddress возвращает адрес для http.Server
func (c *Config) GetServerAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// GetDatabaseURL возвращает DSN строку для подключения к БД и миграций
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.app_version", "1.0.0")
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.mode", "debug")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "cca_user")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.dbname", "cca")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_path", "./migrations")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_timeout", 4*time.Second)

	// Waitlist defaults
	v.SetDefault("waitlist.promotion_window", 2*time.Hour)

	// Worker defaults
	v.SetDefault("worker.sweep_interval", 5*time.Minute)
	v.SetDefault("worker.run_on_start", true)

	// Notifier defaults
	v.SetDefault("notifier.buffer_size", 256)
	v.SetDefault("notifier.workers", 2)
	v.SetDefault("notifier.max_retries", 2)
	v.SetDefault("notifier.retry_delay", 500*time.Millisecond)
	v.SetDefault("notifier.locale", "en")
	v.SetDefault("notifier.send_timeout", 10*time.Second)

	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.queue_name", "cca_notifications")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "waitlist-transitions")
	v.SetDefault("kafka.buffer_size", 512)
	v.SetDefault("kafka.send_timeout", 5*time.Second)

	v.SetDefault("telegram.enabled", false)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("log.level", "info")
}
