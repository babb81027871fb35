/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package probe implements readiness checks against the platform services.
//
// A check is re-issued on a poll interval rather than held open on a single
// long-lived connection, since services may restart mid-wait. Composite
// readiness is an ordered conjunction: the cheap coarse check gates the
// expensive fine one.
package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	booterrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

// Check is a single readiness predicate. Probe returns nil when the target
// is ready and a descriptive error while it is not.
type Check interface {
	Name() string
	Probe(ctx context.Context) error
}

// Await polls check every interval until it passes or timeout elapses. The
// returned error is nil on readiness and a Timeout-classified error carrying
// the last observed state otherwise.
func Await(ctx context.Context, log logr.Logger, check Check, interval, timeout time.Duration) error {
	var lastErr error

	log.V(1).Info("awaiting readiness", "check", check.Name(), "interval", interval.String(), "timeout", timeout.String())

	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		if err := check.Probe(ctx); err != nil {
			lastErr = err
			log.V(1).Info("not ready yet", "check", check.Name(), "state", err.Error())
			return false, nil
		}
		return true, nil
	})
	if err == nil {
		log.V(1).Info("ready", "check", check.Name())
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no probe completed")
	}
	return booterrors.WrapTimeout(fmt.Errorf("%s not ready within %s: last state: %w", check.Name(), timeout, lastErr))
}

// NewHTTPClient builds an HTTP client for probing, trusting caPEM when
// given and the system roots otherwise. Keep-alives are disabled so every
// poll exercises a fresh connection.
func NewHTTPClient(caPEM []byte, serverName string, timeout time.Duration) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if serverName != "" {
		tlsConfig.ServerName = serverName
	}
	if len(caPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA PEM")
		}
		tlsConfig.RootCAs = pool
	}

	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:       tlsConfig,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			DisableKeepAlives:     true,
		},
		Timeout: timeout,
	}, nil
}

func tcpDial(ctx context.Context, address string) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}
