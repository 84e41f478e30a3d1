package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/dropwatch/internal/domain"
)

// Config: корневая структура конфигурации движка мониторинга.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Monitors  []MonitorConfig `mapstructure:"monitors"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL. Пустой URL — работа без хранилища.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и источники сигналов). Пустой Addr — без Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig: публичный RSA ключ IdP для проверки токенов операторов.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// EngineConfig: параметры оценки правил и журналов по умолчанию.
type EngineConfig struct {
	TenantID         string        `mapstructure:"tenant_id"`
	DefaultCapacity  int           `mapstructure:"default_capacity"`
	DefaultRetention time.Duration `mapstructure:"default_retention"`
	TickTimeout      time.Duration `mapstructure:"tick_timeout"`
	WeightHistory    float64       `mapstructure:"weight_history"`
	WeightQuality    float64       `mapstructure:"weight_quality"`
	WeightMaturity   float64       `mapstructure:"weight_maturity"`
	MaturityCap      int           `mapstructure:"maturity_cap"`
	NeutralPrior     float64       `mapstructure:"neutral_prior"`
}

// NotifyConfig настраивает диспетчер уведомлений (буфер и пакетная отправка).
type NotifyConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Channel       string        `mapstructure:"channel"`
}

// GeneratorConfig: генеративный сервис (OpenAI chat completions).
type GeneratorConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // Запросов в секунду
	Burst     int           `mapstructure:"burst"`
}

// WebhookConfig: входящие события apex-empire.
type WebhookConfig struct {
	Secret        string   `mapstructure:"secret"`
	MaxBodyBytes  int64    `mapstructure:"max_body_bytes"`
	AllowedEvents []string `mapstructure:"allowed_events"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// MonitorConfig: один домен: расписание, источник (или проба) и правила.
type MonitorConfig struct {
	Domain      string        `mapstructure:"domain"`
	Interval    time.Duration `mapstructure:"interval"`
	TickTimeout time.Duration `mapstructure:"tick_timeout"`
	Capacity    int           `mapstructure:"capacity"`
	Retention   time.Duration `mapstructure:"retention"`
	Source      *SourceConfig `mapstructure:"source"`
	Probe       *ProbeConfig  `mapstructure:"probe"`
	Rules       []domain.Rule `mapstructure:"rules"`
}

// SourceConfig: откуда монитор берет срез: simulated | http | redis | sql.
type SourceConfig struct {
	Kind        string              `mapstructure:"kind"`
	URL         string              `mapstructure:"url"`     // http
	Key         string              `mapstructure:"key"`     // redis, по умолчанию dropwatch:signals:<domain>
	MaxAge      time.Duration       `mapstructure:"max_age"` // sql
	Seed        uint64              `mapstructure:"seed"`    // simulated
	Quality     float64             `mapstructure:"quality"`
	Latency     time.Duration       `mapstructure:"latency"`
	Numeric     []NumericSignal     `mapstructure:"numeric"`
	Categorical []CategoricalSignal `mapstructure:"categorical"`
	Breaker     bool                `mapstructure:"breaker"`
}

type NumericSignal struct {
	Name  string  `mapstructure:"name"`
	Start float64 `mapstructure:"start"`
	Min   float64 `mapstructure:"min"`
	Max   float64 `mapstructure:"max"`
	Step  float64 `mapstructure:"step"`
}

type CategoricalSignal struct {
	Name   string   `mapstructure:"name"`
	Values []string `mapstructure:"values"`
}

// ProbeConfig: health-check вариант монитора: http | redis | postgres | grpc.
type ProbeConfig struct {
	Kind    string `mapstructure:"kind"`
	Target  string `mapstructure:"target"`  // URL или адрес gRPC
	Service string `mapstructure:"service"` // grpc.health.v1 service name
	Breaker bool   `mapstructure:"breaker"`
}

// DefaultWebhookEvents: допустимые события apex-empire.
var DefaultWebhookEvents = []string{
	"order.created",
	"order.fulfilled",
	"product.launched",
	"inventory.low",
	"campaign.published",
	"traffic.spike",
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Секреты: ENV приоритетнее файла (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Generator.APIKey == "" {
		cfg.Generator.APIKey = key
	}
	if len(cfg.Webhook.AllowedEvents) == 0 {
		cfg.Webhook.AllowedEvents = append([]string(nil), DefaultWebhookEvents...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет то, что нельзя отложить до регистрации мониторов.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Monitors))
	for i, m := range c.Monitors {
		if m.Domain == "" {
			return fmt.Errorf("%w: monitors[%d]: domain is required", domain.ErrInvalidConfig, i)
		}
		if seen[m.Domain] {
			return fmt.Errorf("%w: monitors: duplicate domain %s", domain.ErrInvalidConfig, m.Domain)
		}
		seen[m.Domain] = true
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: webhook.max_body_bytes must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.tenant_id", "default")
	v.SetDefault("engine.default_capacity", 100)
	v.SetDefault("engine.default_retention", 24*time.Hour)
	v.SetDefault("engine.weight_history", 0.4)
	v.SetDefault("engine.weight_quality", 0.3)
	v.SetDefault("engine.weight_maturity", 0.3)
	v.SetDefault("engine.maturity_cap", 50)
	v.SetDefault("engine.neutral_prior", 0.5)

	v.SetDefault("notify.buffer_size", 10000)
	v.SetDefault("notify.batch_size", 100)
	v.SetDefault("notify.flush_interval", 500*time.Millisecond)
	v.SetDefault("notify.channel", RedisChanNotifications)

	v.SetDefault("generator.base_url", "https://api.openai.com/v1")
	v.SetDefault("generator.model", "gpt-4o-mini")
	v.SetDefault("generator.timeout", 30*time.Second)
	v.SetDefault("generator.rate_limit", 2)
	v.SetDefault("generator.burst", 4)

	v.SetDefault("webhook.max_body_bytes", 64<<10)
}

// loadKeyResource: ключ из ENV (PEM) или из файла по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
