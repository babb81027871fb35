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

package main

import (
	"fmt"
	"os"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/dc-tec/platform-bootstrap/cmd/orchestrator"
)

var setupLog = ctrl.Log.WithName("setup")

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("missing command (valid commands: up, down, verify)")
	}

	// Shift args so flag parsing works inside sub-functions.
	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "up":
		return orchestrator.RunUp(args)
	case "down":
		return orchestrator.RunDown(args)
	case "verify":
		return orchestrator.RunVerify(args)
	default:
		return fmt.Errorf("unknown command %q (valid commands: up, down, verify)", command)
	}
}

func main() {
	if err := run(); err != nil {
		setupLog.Error(err, "command failed")
		os.Exit(1)
	}
}
