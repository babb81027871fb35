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

package kube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"

	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

// ExecResult carries the captured streams of a completed in-container
// command.
type ExecResult struct {
	Stdout string
	Stderr string
}

// Exec runs command (structured argv, never a shell string) inside the
// named container and captures its output. A non-zero exit is returned as a
// Rejected error carrying stderr.
func (c *Client) Exec(ctx context.Context, namespace, pod, container string, command []string) (ExecResult, error) {
	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   command,
			Stdout:    true,
			Stderr:    true,
		}, clientgoscheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.restConfig, "POST", req.URL())
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create executor for %s/%s: %w", namespace, pod, err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	result := ExecResult{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		var exitErr utilexec.CodeExitError
		if errors.As(err, &exitErr) {
			return result, platformerrors.Rejectedf("exec in %s/%s exited %d: %s", namespace, pod, exitErr.Code, result.Stderr)
		}
		return result, platformerrors.WrapUnreachable(fmt.Errorf("exec stream to %s/%s failed: %w", namespace, pod, err))
	}
	return result, nil
}
