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

package constants

// Environment variable fallbacks for command-line flags.
const (
	EnvKubeconfig       = "PLATFORM_BOOTSTRAP_KUBECONFIG"
	EnvDomain           = "PLATFORM_BOOTSTRAP_DOMAIN"
	EnvStateDir         = "PLATFORM_BOOTSTRAP_STATE_DIR"
	EnvKeycloakAdmin    = "PLATFORM_BOOTSTRAP_KEYCLOAK_ADMIN"
	EnvKeycloakPassword = "PLATFORM_BOOTSTRAP_KEYCLOAK_PASSWORD"
	EnvMinioAccessKey   = "PLATFORM_BOOTSTRAP_MINIO_ACCESS_KEY"
	EnvMinioSecretKey   = "PLATFORM_BOOTSTRAP_MINIO_SECRET_KEY"
)
