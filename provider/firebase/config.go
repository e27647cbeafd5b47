package firebase

import (
	"errors"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	defaultSecureTokenURL     = "https://securetoken.googleapis.com/v1"
	defaultJWKSURL            = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	defaultRequestURI         = "http://localhost"
)

// ErrInvalidConfig is returned when the adapter configuration is incomplete.
var ErrInvalidConfig = goerrors.New("invalid firebase configuration", goerrors.CategoryValidation).
	WithTextCode("FIREBASE_INVALID_CONFIG").
	WithCode(goerrors.CodeBadRequest)

// Config holds the Firebase project settings.
type Config struct {
	APIKey        string `env:"FIREBASE_API_KEY"`
	AuthDomain    string `env:"FIREBASE_AUTH_DOMAIN"`
	DatabaseURL   string `env:"FIREBASE_DATABASE_URL"`
	ProjectID     string `env:"FIREBASE_PROJECT_ID"`
	StorageBucket string `env:"FIREBASE_STORAGE_BUCKET"`

	IdentityToolkitURL string        `env:"FIREBASE_IDENTITY_TOOLKIT_URL" envDefault:"https://identitytoolkit.googleapis.com/v1"`
	SecureTokenURL     string        `env:"FIREBASE_SECURE_TOKEN_URL"     envDefault:"https://securetoken.googleapis.com/v1"`
	JWKSURL            string        `env:"FIREBASE_JWKS_URL"             envDefault:"https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"`
	RequestURI         string        `env:"FIREBASE_REQUEST_URI"          envDefault:"http://localhost"`
	VerifyIDTokens     bool          `env:"FIREBASE_VERIFY_ID_TOKENS"`
	HTTPTimeout        time.Duration `env:"FIREBASE_HTTP_TIMEOUT"         envDefault:"10s"`

	HTTPClient *http.Client `env:"-"`
}

// LoadConfigFromEnv reads the configuration from the environment and
// validates it.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse firebase environment")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports missing or malformed settings.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.ProjectID, validation.Required),
		validation.Field(&c.DatabaseURL, is.URL),
		validation.Field(&c.IdentityToolkitURL, validation.Required, is.URL),
		validation.Field(&c.SecureTokenURL, validation.Required, is.URL),
		validation.Field(&c.JWKSURL, is.URL),
		validation.Field(&c.RequestURI, validation.Required, is.URL),
	)
	if err == nil && c.VerifyIDTokens && c.JWKSURL == "" {
		err = validation.Errors{"JWKSURL": errors.New("cannot be blank")}
	}
	if err != nil {
		clone := ErrInvalidConfig.Clone()
		clone.Source = err
		clone.Message = "invalid firebase configuration: " + err.Error()
		return clone
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.IdentityToolkitURL == "" {
		c.IdentityToolkitURL = defaultIdentityToolkitURL
	}
	if c.SecureTokenURL == "" {
		c.SecureTokenURL = defaultSecureTokenURL
	}
	if c.JWKSURL == "" {
		c.JWKSURL = defaultJWKSURL
	}
	if c.RequestURI == "" {
		c.RequestURI = defaultRequestURI
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}
