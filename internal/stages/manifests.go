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

package stages

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
)

// Container images pinned for the deployment profile.
const (
	imageEngine   = "hashicorp/vault:1.17"
	imageIdP      = "quay.io/keycloak/keycloak:26.0"
	imageBroker   = "hashicorp/boundary:0.18"
	imageDatabase = "postgres:16-alpine"
	imageMinio    = "minio/minio:RELEASE.2024-08-17T01-24-54Z"
	imageSSH      = "lscr.io/linuxserver/openssh-server:latest"
)

const (
	tlsMountPath       = "/etc/tls"
	workerTLSMountPath = "/etc/tls-worker"
	sshTargetPort      = 2222
)

func appLabels(name string) map[string]string {
	return map[string]string{
		constants.LabelAppName:      name,
		constants.LabelAppManagedBy: constants.LabelValueManagedBy,
	}
}

func objectMeta(namespace, name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Namespace: namespace,
		Name:      name,
		Labels:    appLabels(name),
	}
}

func configMap(namespace, name string, data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: objectMeta(namespace, name),
		Data:       data,
	}
}

func clusterIPService(namespace, name string, ports []corev1.ServicePort) *corev1.Service {
	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: objectMeta(namespace, name),
		Spec: corev1.ServiceSpec{
			Selector: appLabels(name),
			Ports:    ports,
		},
	}
}

func tlsVolume(secretName string) corev1.Volume {
	return corev1.Volume{
		Name: "tls",
		VolumeSource: corev1.VolumeSource{
			Secret: &corev1.SecretVolumeSource{SecretName: secretName},
		},
	}
}

func tlsVolumeMount() corev1.VolumeMount {
	return corev1.VolumeMount{Name: "tls", MountPath: tlsMountPath, ReadOnly: true}
}

// engineStatefulSet runs the secret engine with raft storage on a persistent
// volume. A StatefulSet keeps the node identity stable across restarts,
// which raft requires.
func engineStatefulSet() *appsv1.StatefulSet {
	labels := appLabels(constants.ServiceVault)
	return &appsv1.StatefulSet{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "StatefulSet"},
		ObjectMeta: objectMeta(constants.NamespaceVault, constants.ServiceVault),
		Spec: appsv1.StatefulSetSpec{
			ServiceName: constants.ServiceVault,
			Replicas:    ptr.To(int32(1)),
			Selector:    &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:    constants.ServiceVault,
						Image:   imageEngine,
						Command: []string{"vault", "server", "-config=/vault/config/vault.hcl"},
						Ports: []corev1.ContainerPort{
							{Name: "api", ContainerPort: 8200},
							{Name: "cluster", ContainerPort: 8201},
						},
						SecurityContext: &corev1.SecurityContext{
							Capabilities: &corev1.Capabilities{Add: []corev1.Capability{"IPC_LOCK"}},
						},
						VolumeMounts: []corev1.VolumeMount{
							{Name: "config", MountPath: "/vault/config", ReadOnly: true},
							{Name: "data", MountPath: "/vault/data"},
							tlsVolumeMount(),
						},
					}},
					Volumes: []corev1.Volume{
						{
							Name: "config",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{Name: "vault-config"},
								},
							},
						},
						tlsVolume(constants.SecretVaultTLS),
					},
				},
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{{
				ObjectMeta: metav1.ObjectMeta{Name: "data"},
				Spec: corev1.PersistentVolumeClaimSpec{
					AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceStorage: resource.MustParse("1Gi"),
						},
					},
				},
			}},
		},
	}
}

func engineService() *corev1.Service {
	return clusterIPService(constants.NamespaceVault, constants.ServiceVault, []corev1.ServicePort{
		{Name: "api", Port: 8200},
		{Name: "cluster", Port: 8201},
	})
}

func minioDeployment() *appsv1.Deployment {
	labels := appLabels(constants.ServiceMinio)
	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: objectMeta(constants.NamespaceMinio, constants.ServiceMinio),
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  constants.ServiceMinio,
						Image: imageMinio,
						Args:  []string{"server", "/data", "--certs-dir", tlsMountPath},
						Env: []corev1.EnvVar{
							secretEnv("MINIO_ROOT_USER", constants.SecretMinioCredentials, constants.SecretKeyAccessKey),
							secretEnv("MINIO_ROOT_PASSWORD", constants.SecretMinioCredentials, constants.SecretKeySecretKey),
						},
						Ports: []corev1.ContainerPort{{Name: "api", ContainerPort: 9000}},
						VolumeMounts: []corev1.VolumeMount{
							{Name: "data", MountPath: "/data"},
							tlsVolumeMount(),
						},
					}},
					Volumes: []corev1.Volume{
						{Name: "data", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
						minioTLSVolume(),
					},
				},
			},
		},
	}
}

// minioTLSVolume projects the issued pair under the file names MinIO
// expects: private.key and public.crt rather than the Kubernetes defaults.
func minioTLSVolume() corev1.Volume {
	return corev1.Volume{
		Name: "tls",
		VolumeSource: corev1.VolumeSource{
			Secret: &corev1.SecretVolumeSource{
				SecretName: constants.SecretMinioTLS,
				Items: []corev1.KeyToPath{
					{Key: constants.SecretKeyTLSCert, Path: "public.crt"},
					{Key: constants.SecretKeyTLSKey, Path: "private.key"},
				},
			},
		},
	}
}

func minioService() *corev1.Service {
	return clusterIPService(constants.NamespaceMinio, constants.ServiceMinio, []corev1.ServicePort{
		{Name: "api", Port: 9000},
	})
}

func idpDeployment(domain, adminUser string) *appsv1.Deployment {
	labels := appLabels(constants.ServiceKeycloak)
	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: objectMeta(constants.NamespaceKeycloak, constants.ServiceKeycloak),
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  constants.ServiceKeycloak,
						Image: imageIdP,
						Args: []string{
							"start",
							fmt.Sprintf("--hostname=keycloak.%s", domain),
							"--https-certificate-file=" + tlsMountPath + "/tls.crt",
							"--https-certificate-key-file=" + tlsMountPath + "/tls.key",
						},
						Env: []corev1.EnvVar{
							{Name: "KC_BOOTSTRAP_ADMIN_USERNAME", Value: adminUser},
							secretEnv("KC_BOOTSTRAP_ADMIN_PASSWORD", secretIdPAdmin, "password"),
						},
						Ports:        []corev1.ContainerPort{{Name: "https", ContainerPort: 8443}},
						VolumeMounts: []corev1.VolumeMount{tlsVolumeMount()},
					}},
					Volumes: []corev1.Volume{tlsVolume(constants.SecretKeycloakTLS)},
				},
			},
		},
	}
}

func idpService() *corev1.Service {
	return clusterIPService(constants.NamespaceKeycloak, constants.ServiceKeycloak, []corev1.ServicePort{
		{Name: "https", Port: 8443},
	})
}

func databaseDeployment() *appsv1.Deployment {
	labels := appLabels(brokerDatabaseService)
	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: objectMeta(constants.NamespaceBoundary, brokerDatabaseService),
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  brokerDatabaseService,
						Image: imageDatabase,
						Env: []corev1.EnvVar{
							{Name: "POSTGRES_DB", Value: "boundary"},
							{Name: "POSTGRES_USER", Value: "boundary"},
							secretEnv("POSTGRES_PASSWORD", secretBrokerDB, "password"),
						},
						Ports: []corev1.ContainerPort{{Name: "pg", ContainerPort: 5432}},
						VolumeMounts: []corev1.VolumeMount{
							{Name: "data", MountPath: "/var/lib/postgresql/data"},
						},
					}},
					Volumes: []corev1.Volume{
						{Name: "data", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
					},
				},
			},
		},
	}
}

func databaseService() *corev1.Service {
	return clusterIPService(constants.NamespaceBoundary, brokerDatabaseService, []corev1.ServicePort{
		{Name: "pg", Port: 5432},
	})
}

// brokerInitPod is a one-shot helper pod: it carries the broker binary and
// config so the database schema can be initialized by exec before the
// controller deployment exists.
func brokerInitPod() *corev1.Pod {
	return &corev1.Pod{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: objectMeta(constants.NamespaceBoundary, brokerInitPodName),
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:    "init",
				Image:   imageBroker,
				Command: []string{"/bin/sh", "-c", "sleep infinity"},
				VolumeMounts: []corev1.VolumeMount{
					{Name: "config", MountPath: "/boundary/config", ReadOnly: true},
					tlsVolumeMount(),
				},
			}},
			Volumes: []corev1.Volume{
				{
					Name: "config",
					VolumeSource: corev1.VolumeSource{
						ConfigMap: &corev1.ConfigMapVolumeSource{
							LocalObjectReference: corev1.LocalObjectReference{Name: "boundary-config"},
						},
					},
				},
				tlsVolume(constants.SecretBoundaryTLS),
			},
		},
	}
}

func brokerDeployment() *appsv1.Deployment {
	labels := appLabels(constants.ServiceBoundary)
	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: objectMeta(constants.NamespaceBoundary, constants.ServiceBoundary),
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:    constants.ServiceBoundary,
						Image:   imageBroker,
						Command: []string{"boundary", "server", "-config", "/boundary/config/boundary.hcl"},
						Ports: []corev1.ContainerPort{
							{Name: "api", ContainerPort: 9200},
							{Name: "cluster", ContainerPort: 9201},
							{Name: "proxy", ContainerPort: 9202},
						},
						VolumeMounts: []corev1.VolumeMount{
							{Name: "config", MountPath: "/boundary/config", ReadOnly: true},
							{Name: "events", MountPath: brokerRecordingPath},
							tlsVolumeMount(),
							{Name: "tls-worker", MountPath: workerTLSMountPath, ReadOnly: true},
						},
					}},
					Volumes: []corev1.Volume{
						{
							Name: "config",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{Name: "boundary-config"},
								},
							},
						},
						{Name: "events", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
						tlsVolume(constants.SecretBoundaryTLS),
						{
							Name: "tls-worker",
							VolumeSource: corev1.VolumeSource{
								Secret: &corev1.SecretVolumeSource{SecretName: constants.SecretBoundaryWorkerTLS},
							},
						},
					},
				},
			},
		},
	}
}

func brokerService() *corev1.Service {
	return clusterIPService(constants.NamespaceBoundary, constants.ServiceBoundary, []corev1.ServicePort{
		{Name: "api", Port: 9200},
		{Name: "cluster", Port: 9201},
		{Name: "proxy", Port: 9202},
	})
}

// brokerWorkerService fronts the colocated worker's proxy listener under its
// own DNS name, matching the host the worker cert is issued for.
func brokerWorkerService() *corev1.Service {
	svc := clusterIPService(constants.NamespaceBoundary, constants.ServiceBoundaryWorker, []corev1.ServicePort{
		{Name: "proxy", Port: 9202},
	})
	svc.Spec.Selector = appLabels(constants.ServiceBoundary)
	return svc
}

func sshWorkloadDeployment() *appsv1.Deployment {
	labels := appLabels(sshWorkloadName)
	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: objectMeta(constants.NamespaceWorkloads, sshWorkloadName),
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(2)),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "sshd",
						Image: imageSSH,
						Ports: []corev1.ContainerPort{{Name: "ssh", ContainerPort: sshTargetPort}},
						Env: []corev1.EnvVar{
							{Name: "PUID", Value: "1000"},
							{Name: "PGID", Value: "1000"},
						},
						VolumeMounts: []corev1.VolumeMount{
							{Name: "host-keys", MountPath: "/host-keys", ReadOnly: true},
						},
					}},
					Volumes: []corev1.Volume{
						{
							Name: "host-keys",
							VolumeSource: corev1.VolumeSource{
								Secret: &corev1.SecretVolumeSource{SecretName: secretSSHHostKeys},
							},
						},
					},
				},
			},
		},
	}
}

func sshWorkloadService() *corev1.Service {
	return clusterIPService(constants.NamespaceWorkloads, sshWorkloadName, []corev1.ServicePort{
		{Name: "ssh", Port: sshTargetPort},
	})
}

func secretEnv(name, secretName, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: secretName},
				Key:                  key,
			},
		},
	}
}
