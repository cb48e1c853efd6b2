package main

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/nvdnkpr/oauth2/server"
)

const (
	defaultBindHost      = "localhost"
	defaultBindPort      = 8080
	defaultRealm         = "oauth2"
	defaultTokenLifetime = 3600
	defaultAuthnTimeout  = 600
)

// config represents the configuration format for the server.
type config struct {
	BindHost      string      `toml:"bind-host"`
	BindPort      int         `toml:"bind-port"`
	BaseURL       string      `toml:"base-url"`
	Realm         string      `toml:"realm"`
	TokenLifetime int64       `toml:"token-lifetime"`
	AuthnTimeout  int         `toml:"authn-timeout"`
	Clients       clientMap   `toml:"clients"`
	Redis         redisConfig `toml:"redis"`
	Login         loginConfig `toml:"login"`
}

// Redis configuration
type redisConfig struct {
	Address  string `toml:"address"`
	Password string `toml:"password"`
}

// Login service configuration
type loginConfig struct {
	URL    string `toml:"url"`
	Secret string `toml:"secret"`
}

// Client configuration
type clientConfig struct {
	RedirectURI string `toml:"redirect-uri"`
	Name        string `toml:"name"`
	Secret      string `toml:"secret"`
}

// Client lookup
type clientMap map[string]clientConfig

// Get implements server.ClientMap.
func (m clientMap) Get(id string) (*server.Client, error) {
	if c, ok := m[id]; ok {
		return &server.Client{
			ID: id, RedirectURI: c.RedirectURI, Name: c.Name, Secret: c.Secret,
		}, nil
	}
	return nil, server.ErrClientNotFound
}

// loadConfig returns an instance of config with reasonable defaults.
func loadConfig(configPath string) (*config, error) {
	config := &config{
		BindHost:      defaultBindHost,
		BindPort:      defaultBindPort,
		Realm:         defaultRealm,
		TokenLifetime: defaultTokenLifetime,
		AuthnTimeout:  defaultAuthnTimeout,
	}
	if configPath != "" {
		if err := tomlToConfig(configPath, config); err != nil {
			return nil, err
		}
	}
	return config, nil
}

// tomlToConfig merges the toml file with our config.
func tomlToConfig(tomlPath string, config *config) error {
	bs, err := os.ReadFile(tomlPath)
	if err != nil {
		return err
	}
	_, err = toml.Decode(string(bs), config)
	return err
}
