/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package natsutil connects fgtrack clients to a NATS broker.
package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/nats-io/nats.go"
)

var (
	errUnknownSecurityMode = errors.New("unknown security mode")
	errNoCACertificates    = errors.New("no CA certificates found")
)

// ClientTLS returns the client-side tls.Config for sec. It returns nil when
// sec asks for no transport security. Relative certificate paths are
// resolved against sec.CertDir first.
func ClientTLS(sec *models.SecurityConfig) (*tls.Config, error) {
	if sec == nil {
		return nil, nil
	}

	switch sec.Mode {
	case "", models.SecurityModeNone:
		return nil, nil
	case models.SecurityModeMTLS:
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownSecurityMode, sec.Mode)
	}

	sec.ResolvePaths()

	cert, err := tls.LoadX509KeyPair(sec.TLS.CertFile, sec.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	roots, err := loadRoots(sec.TLS.CAFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      roots,
		ServerName:   sec.ServerName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func loadRoots(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w in %s", errNoCACertificates, caFile)
	}

	return roots, nil
}

// ConnectWithSecurity creates a NATS connection with security configuration.
// Connection state changes are reported through log.
func ConnectWithSecurity(natsURL, name string, security *models.SecurityConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	tlsConf, err := ClientTLS(security)
	if err != nil {
		return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
	}

	var opts []nats.Option

	if tlsConf != nil {
		opts = append(opts, nats.Secure(tlsConf))
	}

	if name != "" {
		opts = append(opts, nats.Name(name))
	}

	opts = append(opts,
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}
