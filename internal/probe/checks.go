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

package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// TCPCheck passes once the address accepts a TCP connection.
type TCPCheck struct {
	// Addr is the host:port to dial.
	Addr string
	// DialTimeout bounds a single dial attempt. Defaults to 2s.
	DialTimeout time.Duration
}

func (c *TCPCheck) Name() string { return "tcp " + c.Addr }

func (c *TCPCheck) Probe(ctx context.Context) error {
	timeout := c.DialTimeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := tcpDial(dialCtx, c.Addr); err != nil {
		return fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	return nil
}

// HTTPCheck passes when a GET to URL returns one of the expected status
// codes. An empty ExpectStatus means any 2xx.
type HTTPCheck struct {
	URL          string
	Client       *http.Client
	ExpectStatus []int
}

func (c *HTTPCheck) Name() string { return "http " + c.URL }

func (c *HTTPCheck) Probe(ctx context.Context) error {
	status, _, err := c.get(ctx)
	if err != nil {
		return err
	}
	if len(c.ExpectStatus) == 0 {
		if status >= 200 && status < 300 {
			return nil
		}
		return fmt.Errorf("status %d", status)
	}
	for _, want := range c.ExpectStatus {
		if status == want {
			return nil
		}
	}
	return fmt.Errorf("status %d, want one of %v", status, c.ExpectStatus)
}

func (c *HTTPCheck) get(ctx context.Context) (int, []byte, error) {
	httpClient := c.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request %s: %w", c.URL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// JSONFieldCheck passes when the decoded response body satisfies Predicate.
// The predicate is a typed function, never string matching on raw output.
// The body is decoded regardless of status code because status endpoints
// (e.g. a seal-status API) encode state in non-2xx codes.
type JSONFieldCheck struct {
	Desc      string
	URL       string
	Client    *http.Client
	Predicate func(body map[string]any) bool
}

func (c *JSONFieldCheck) Name() string { return c.Desc }

func (c *JSONFieldCheck) Probe(ctx context.Context) error {
	inner := &HTTPCheck{URL: c.URL, Client: c.Client}
	_, body, err := inner.get(ctx)
	if err != nil {
		return err
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !c.Predicate(decoded) {
		return fmt.Errorf("predicate not satisfied: %s", compactJSON(body))
	}
	return nil
}

func compactJSON(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// PodsRunningCheck passes when at least MinReady pods matching the selector
// are Running and report the Ready condition.
type PodsRunningCheck struct {
	Reader    client.Reader
	Namespace string
	Selector  map[string]string
	MinReady  int
}

func (c *PodsRunningCheck) Name() string {
	return fmt.Sprintf("pods %s %v", c.Namespace, c.Selector)
}

func (c *PodsRunningCheck) Probe(ctx context.Context) error {
	minReady := c.MinReady
	if minReady == 0 {
		minReady = 1
	}

	var pods corev1.PodList
	if err := c.Reader.List(ctx, &pods,
		client.InNamespace(c.Namespace),
		client.MatchingLabels(c.Selector),
	); err != nil {
		return fmt.Errorf("list pods: %w", err)
	}

	ready := 0
	for i := range pods.Items {
		if isPodReady(&pods.Items[i]) {
			ready++
		}
	}
	if ready < minReady {
		return fmt.Errorf("%d/%d pods ready", ready, minReady)
	}
	return nil
}

func isPodReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// Conjunction evaluates checks in order and fails on the first miss, so a
// cheap TCP gate runs before an expensive structured status read.
type Conjunction struct {
	Desc   string
	Checks []Check
}

func (c *Conjunction) Name() string { return c.Desc }

func (c *Conjunction) Probe(ctx context.Context) error {
	for _, check := range c.Checks {
		if err := check.Probe(ctx); err != nil {
			return fmt.Errorf("%s: %w", check.Name(), err)
		}
	}
	return nil
}

// CheckFunc adapts a plain function into a Check.
func CheckFunc(name string, probe func(ctx context.Context) error) Check {
	return &funcCheck{name: name, probe: probe}
}

type funcCheck struct {
	name  string
	probe func(ctx context.Context) error
}

func (f *funcCheck) Name() string { return f.name }

func (f *funcCheck) Probe(ctx context.Context) error { return f.probe(ctx) }
