package config

import (
	"net"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort  string `env:"HTTP_PORT" envDefault:"8080"`
	APIPrefix string `env:"API_PREFIX" envDefault:"/api"`
	Debug     bool   `env:"DEBUG" envDefault:"false"`

	// TrustedProxies vacio: ClientIP es siempre la IP del peer y X-Forwarded-For se ignora.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:8000,http://127.0.0.1:8000,http://127.0.0.1:3000,http://localhost:3000"`

	Auth     Auth
	Postgres Postgres `envPrefix:"PG_"`

	DatabaseURL   string `env:"DATABASE_URL"`
	AutoMigrate   bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Auth agrupa los parametros de verificacion de identidad.
type Auth struct {
	SecretKey         string        `env:"SECRET_KEY" envDefault:"changeme"`
	DebugAuth         bool          `env:"DEBUG_AUTH" envDefault:"false"`
	OfflineMode       bool          `env:"OFFLINE_MODE" envDefault:"false"`
	OfflineAdminEmail string        `env:"OFFLINE_ADMIN_EMAIL" envDefault:"devadmin@example.com"`
	GoogleAudience    string        `env:"GOOGLE_AUDIENCE"`
	GoogleClientID    string        `env:"GOOGLE_CLIENT_ID"`
	GoogleCertsURL    string        `env:"GOOGLE_CERTS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	VerifyTimeout     time.Duration `env:"GOOGLE_VERIFY_TIMEOUT" envDefault:"5s"`
	ExchangeLimit     int           `env:"AUTH_EXCHANGE_LIMIT" envDefault:"30"`
	ExchangeWindow    time.Duration `env:"AUTH_EXCHANGE_WINDOW" envDefault:"1m"`
}

// Postgres contiene las partes del DSN cuando DATABASE_URL no esta definido.
type Postgres struct {
	Host    string `env:"HOST" envDefault:"localhost"`
	Port    int    `env:"PORT" envDefault:"5432"`
	User    string `env:"USER" envDefault:"postgres"`
	Pass    string `env:"PASS"`
	DB      string `env:"DB" envDefault:"postgres"`
	GCPPath string `env:"GCP_PATH"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(false): parseFlag,
		},
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, err
	}
	cfg.APIPrefix = normalizePrefix(cfg.APIPrefix)
	cfg.Auth.OfflineAdminEmail = strings.ToLower(strings.TrimSpace(cfg.Auth.OfflineAdminEmail))
	return &cfg, nil
}

// Audience devuelve GOOGLE_AUDIENCE o, en su defecto, GOOGLE_CLIENT_ID.
func (a Auth) Audience() string {
	if aud := strings.TrimSpace(a.GoogleAudience); aud != "" {
		return aud
	}
	return strings.TrimSpace(a.GoogleClientID)
}

// DSN devuelve DATABASE_URL o compone uno a partir de PG_*.
// Con PG_GCP_PATH se conecta por el socket de Cloud SQL.
func (c *Config) DSN() string {
	if dsn := strings.TrimSpace(c.DatabaseURL); dsn != "" {
		return dsn
	}
	p := c.Postgres
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Pass),
		Path:   "/" + p.DB,
	}
	if p.GCPPath != "" {
		q := url.Values{}
		q.Set("host", "/cloudsql/"+p.GCPPath)
		q.Set("port", strconv.Itoa(p.Port))
		u.RawQuery = q.Encode()
		return u.String()
	}
	u.Host = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	return u.String()
}

// parseFlag acepta 1/true/yes/y/on. Cualquier otro valor es false.
func parseFlag(value string) (interface{}, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	default:
		return false, nil
	}
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}
