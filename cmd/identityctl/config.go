package main

import (
	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// cliConfig holds settings read from IDENTITY_* variables. Firebase settings
// are read separately by the provider package.
type cliConfig struct {
	SessionFile            string `env:"IDENTITY_SESSION_FILE" envDefault:"${HOME}/.identityctl/session.json" envExpand:"true"`
	ActivityDB             string `env:"IDENTITY_ACTIVITY_DB"`
	ConcealUnknownAccounts bool   `env:"IDENTITY_CONCEAL_UNKNOWN_ACCOUNTS"`
}

func loadConfig() (cliConfig, error) {
	var cfg cliConfig
	if err := env.Parse(&cfg); err != nil {
		return cliConfig{}, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse identityctl environment")
	}
	return cfg, nil
}
