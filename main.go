// Command oauth2 runs an OAuth 2.0 (RFC 6749) authorization and token
// verification service.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/nvdnkpr/oauth2/server"
)

func main() {
	// Load configuration
	conf := conf()
	// Create handler
	handler, err := server.Handler(baseURL(conf).String(), options(conf)...)
	if err != nil {
		log.Fatal(err)
	}
	// Create listener
	bindAddr := fmt.Sprintf("%s:%d", conf.BindHost, conf.BindPort)
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		log.Fatal(err)
	}
	defer listener.Close()
	// Expose Prometheus metrics next to the OAuth 2.0 endpoints
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler)
	// Create error and signal channels
	errorChan := make(chan error)
	signalChan := make(chan os.Signal, 1)
	// Register signals
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	// Start the OAuth 2.0 server
	go start(errorChan, listener, mux)
	// Block until one of the signals above is received
	log.Printf("INFO: Service started on %s.\n", bindAddr)
	for {
		select {
		case err := <-errorChan:
			log.Print(err)
		case <-signalChan:
			log.Print("INFO: Signal received, shutting down.")
			return
		}
	}
}

// start runs the server and reports errors.
func start(errChan chan error, listener net.Listener, handler http.Handler) {
	err := http.Serve(listener, handler)
	if err != nil && !strings.Contains(err.Error(), "closed") {
		errChan <- err
	}
}

func baseURL(conf *config) *url.URL {
	var bu string
	if conf.BaseURL != "" {
		bu = conf.BaseURL
	} else {
		bu = fmt.Sprintf("http://%s:%d/", conf.BindHost, conf.BindPort)
	}
	u, err := url.Parse(bu)
	if err != nil {
		log.Fatal(err)
	}
	return u
}

// conf returns the service configuration
func conf() *config {
	var configPath = flag.String("config", "", "Path to a configuration file.")
	flag.Parse()
	conf, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	return conf
}

func options(conf *config) []server.Option {
	options := []server.Option{
		server.Clients(conf.Clients),
		server.Realm(conf.Realm),
	}
	// Access token lifetime
	if conf.TokenLifetime > 0 {
		lifetime := time.Duration(conf.TokenLifetime) * time.Second
		options = append(options, server.AccessTokenLifetime(lifetime))
	}
	// Check storage provider
	if (conf.Redis != redisConfig{}) {
		store := newRedisStore(conf.Redis.Address, conf.Redis.Password)
		timeout := time.Duration(conf.AuthnTimeout) * time.Second
		options = append(options, server.TokenStorage(store))
		options = append(options, server.StateStorage(store, timeout))
	}
	// Check login provider
	if (conf.Login != loginConfig{}) {
		authn, err := newLoginAuthn(conf.Login.URL, []byte(conf.Login.Secret))
		if err != nil {
			log.Fatal(err)
		}
		options = append(options, server.Authn(authn))
	}
	return options
}
