// Package transport implements core/transport sessions over WebSocket and
// MQTT.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// Config defines the connection parameters shared by every transport.
type Config struct {
	URL            string
	VehicleID      int64
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration

	ClientCert string
	ClientKey  string
	CABundle   string
	TLSConfig  *tls.Config
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ConnectTimeout
}

// LoadTLSConfig builds the TLS configuration from the file paths in the
// config. It returns nil when no file is configured.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" && c.ClientKey == "" && c.CABundle == "" {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.ClientCert != "" || c.ClientKey != "" {
		if c.ClientCert == "" || c.ClientKey == "" {
			return nil, fmt.Errorf("tls config requires both client_cert and client_key")
		}
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if c.CABundle != "" {
		caBytes, err := os.ReadFile(c.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("ca bundle %s holds no certificate", c.CABundle)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
