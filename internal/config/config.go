package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Skotchmaster/auth_gateway/internal/oauth"
	"github.com/Skotchmaster/auth_gateway/internal/repo"
	"github.com/Skotchmaster/auth_gateway/internal/service"
	pkgcfg "github.com/Skotchmaster/auth_gateway/pkg/config"
)

// Route maps a path prefix to an upstream service. Roles, when set, are
// required in addition to a valid session.
type Route struct {
	Prefix string
	Target string
	Roles  []string
}

type OAuthConfig struct {
	SuccessRedirect string
	FailureRedirect string
	CallbackBase    string
	Providers       map[oauth.Provider]oauth.ProviderConfig

	AppleTeamID     string
	AppleKeyID      string
	ApplePrivateKey string
}

type Config struct {
	ListenAddr string
	LogLevel   string
	BodyLimit  string

	DatabaseURL  string
	StoreTimeout time.Duration

	JWTSecret  []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	CookieSecure bool
	LoginURL     string
	Whitelist    []string
	Routes       []Route

	KafkaBrokers []string
	KafkaTopic   string

	ESURL        string
	ESUser       string
	ESPassword   string
	ESAuditIndex string

	RedisAddr     string
	RedisPassword string

	OAuth OAuthConfig
}

func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		slog.Info("env_file_not_found", "error", err)
	}

	cfg := &Config{
		ListenAddr:    pkgcfg.EnvDefault("GATEWAY_ADDR", ":8080"),
		LogLevel:      pkgcfg.EnvDefault("LOG_LEVEL", "info"),
		BodyLimit:     os.Getenv("BODY_LIMIT"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StoreTimeout:  pkgcfg.EnvDurationDefault("STORE_TIMEOUT", repo.DefaultTimeout),
		JWTSecret:     []byte(os.Getenv("JWT_SECRET")),
		AccessTTL:     pkgcfg.EnvDurationDefault("JWT_ACCESS_TTL", service.DefaultAccessTTL),
		RefreshTTL:    pkgcfg.EnvDurationDefault("JWT_REFRESH_TTL", service.DefaultRefreshTTL),
		CookieSecure:  pkgcfg.EnvBoolDefault("COOKIE_SECURE", true),
		LoginURL:      pkgcfg.EnvDefault("LOGIN_URL", "/login"),
		Whitelist:     pkgcfg.CSV(os.Getenv("AUTH_WHITELIST")),
		KafkaBrokers:  pkgcfg.CSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    pkgcfg.EnvDefault("KAFKA_TOPIC", "user_events"),
		ESURL:         os.Getenv("ES_URL"),
		ESUser:        os.Getenv("ES_USER"),
		ESPassword:    os.Getenv("ES_PASSWORD"),
		ESAuditIndex:  pkgcfg.EnvDefault("ES_AUDIT_INDEX", "auth-audit"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		OAuth:         loadOAuth(),
	}

	routes, err := ParseRoutes(os.Getenv("ROUTES"))
	if err != nil {
		return nil, err
	}
	cfg.Routes = routes

	if err := errors.Join(
		pkgcfg.MustNonEmpty(cfg.DatabaseURL, "DATABASE_URL"),
		pkgcfg.MustNonEmptyBytes(cfg.JWTSecret, "JWT_SECRET"),
	); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadOAuth() OAuthConfig {
	base := strings.TrimRight(pkgcfg.EnvDefault("OAUTH2_CALLBACK_BASE", "http://localhost:8080"), "/")
	oc := OAuthConfig{
		SuccessRedirect: pkgcfg.EnvDefault("OAUTH2_SUCCESS_REDIRECT", "http://localhost:3000/oauth2/success"),
		FailureRedirect: pkgcfg.EnvDefault("OAUTH2_FAILURE_REDIRECT", "http://localhost:3000/oauth2/failure"),
		CallbackBase:    base,
		Providers:       make(map[oauth.Provider]oauth.ProviderConfig),
		AppleTeamID:     os.Getenv("APPLE_TEAM_ID"),
		AppleKeyID:      os.Getenv("APPLE_KEY_ID"),
		// PEM keys in .env files usually carry escaped newlines.
		ApplePrivateKey: strings.ReplaceAll(os.Getenv("APPLE_PRIVATE_KEY"), `\n`, "\n"),
	}
	for _, p := range oauth.Providers {
		prefix := strings.ToUpper(string(p))
		id := os.Getenv(prefix + "_CLIENT_ID")
		if id == "" {
			continue
		}
		oc.Providers[p] = oauth.ProviderConfig{
			ClientID:     id,
			ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
			RedirectURL:  base + "/api/v1/auth/oauth2/callback/" + string(p),
		}
	}
	return oc
}

// ParseRoutes reads "prefix=url|ROLE_A;ROLE_B" entries separated by commas.
func ParseRoutes(v string) ([]Route, error) {
	var out []Route
	for _, entry := range pkgcfg.CSV(v) {
		prefix, rest, ok := strings.Cut(entry, "=")
		prefix = strings.TrimSpace(prefix)
		if !ok || prefix == "" || !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("ROUTES: bad entry %q", entry)
		}
		target, roles, _ := strings.Cut(rest, "|")
		target = strings.TrimSpace(target)
		u, err := url.Parse(target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("ROUTES: bad upstream url in %q", entry)
		}
		r := Route{Prefix: prefix, Target: target}
		for _, role := range strings.Split(roles, ";") {
			if role = strings.TrimSpace(role); role != "" {
				r.Roles = append(r.Roles, role)
			}
		}
		out = append(out, r)
	}
	return out, nil
}
