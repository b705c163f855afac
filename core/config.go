package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		DisableReqLogs            bool
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		URL            string
		IdempotencyTTL time.Duration
	}

	KafkaConfig struct {
		Brokers []string
		Topic   string
	}

	StripeConfig struct {
		SecretKey string
	}

	BranchConfig struct {
		Key     string
		BaseURL string
	}

	MediaConfig struct {
		PublicDir     string
		FFmpegPath    string
		MaxUploadSize int64
		TempMaxAge    time.Duration
	}

	BillingConfig struct {
		StripeTax       decimal.Decimal
		ServiceTax      decimal.Decimal
		DefaultCurrency string
	}

	JobsConfig struct {
		Enabled            bool
		SessionMaxDuration time.Duration
	}

	Config struct {
		Env                       string
		Build                     string
		AppName                   string
		Debug                     bool
		TestMode                  bool
		WorkDir                   string
		SecretKey                 string
		FrontendBaseURL           string
		RollbarToken              string
		SendgridApiKey            string
		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Kafka    KafkaConfig
		Stripe   StripeConfig
		Branch   BranchConfig
		Media    MediaConfig
		Billing  BillingConfig
		Jobs     JobsConfig

		defaultFromEmail string
	}
)

func (conf *DatabaseConfig) Address() string {
	return net.JoinHostPort(conf.Host, conf.Port)
}

func (conf *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(conf.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: conf.AppName, Address: "noreply@localhost"}
	}
	return *addr
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Atelier")
	v.SetDefault("secretKey", "k2!vd8_r7p$w+1q#zq0m4l&c9u@e5n6h(3t)yx-og^sbfa")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Atelier <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.disableReqLogs", false)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "atelier")
	v.SetDefault("database.user", "atelier")
	v.SetDefault("database.password", "atelier")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.idempotencyTTL", 24*time.Hour)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "atelier.events")

	v.SetDefault("stripe.secretKey", "")

	v.SetDefault("branch.key", "")
	v.SetDefault("branch.baseURL", "https://api2.branch.io")

	v.SetDefault("media.publicDir", "public")
	v.SetDefault("media.ffmpegPath", "ffmpeg")
	v.SetDefault("media.maxUploadSize", int64(512<<20))
	v.SetDefault("media.tempMaxAge", 6*time.Hour)

	v.SetDefault("billing.stripeTax", "0.1")
	v.SetDefault("billing.serviceTax", "0.05")
	v.SetDefault("billing.defaultCurrency", "usd")

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.sessionMaxDuration", 6*time.Hour)
}

// NewConfig loads the app configuration from the environment.
// ENV selects the variables prefix: DEV (local; default), TEST, QA, PROD.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// tax rates keep their historical names
	_ = v.BindEnv("billing.stripeTax", "SUBSCRIBE_STRIPE_TAX")
	_ = v.BindEnv("billing.serviceTax", "SUBSCRIBE_SERVICE_TAX")

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		AppName:                   v.GetString("appName"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		WorkDir:                   wd,
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		defaultFromEmail:          v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			DisableReqLogs:            v.GetBool("server.disableReqLogs"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Redis: RedisConfig{
			URL:            v.GetString("redis.url"),
			IdempotencyTTL: v.GetDuration("redis.idempotencyTTL"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Stripe: StripeConfig{SecretKey: v.GetString("stripe.secretKey")},
		Branch: BranchConfig{
			Key:     v.GetString("branch.key"),
			BaseURL: v.GetString("branch.baseURL"),
		},
		Media: MediaConfig{
			PublicDir:     absPath(wd, v.GetString("media.publicDir")),
			FFmpegPath:    v.GetString("media.ffmpegPath"),
			MaxUploadSize: v.GetInt64("media.maxUploadSize"),
			TempMaxAge:    v.GetDuration("media.tempMaxAge"),
		},
		Billing: BillingConfig{
			StripeTax:       mustDecimal(v.GetString("billing.stripeTax")),
			ServiceTax:      mustDecimal(v.GetString("billing.serviceTax")),
			DefaultCurrency: CleanString(v.GetString("billing.defaultCurrency"), true /* lower */),
		},
		Jobs: JobsConfig{
			Enabled:            v.GetBool("jobs.enabled"),
			SessionMaxDuration: v.GetDuration("jobs.sessionMaxDuration"),
		},
	}
	return conf
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func absPath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("config.decimal(%s): %v", s, err)
	}
	return d
}
