// Package kube runs classroom machines on a Kubernetes cluster. A machine is
// a single replica Deployment, a LoadBalancer Service exposing it and a
// Secret holding the bootstrap script, its systemd unit and an SSH key pair.
// The image must boot systemd from its entrypoint and ship sudo and curl;
// the pod runs privileged so systemd can manage cgroups.
// Network policies map onto NetworkPolicy objects selecting machine pods by
// label.
package kube

import (
	"os"

	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	appsv1client "k8s.io/client-go/kubernetes/typed/apps/v1"
	corev1client "k8s.io/client-go/kubernetes/typed/core/v1"
	networkingv1client "k8s.io/client-go/kubernetes/typed/networking/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/mjudeikis/classroom-labs/pkg/cloud"
)

const (
	labelMachine      = "classroom.io/machine"
	labelPolicy       = "classroom.io/policy"
	policyLabelPrefix = "policy.classroom.io/"

	annotationPolicyName  = "classroom.io/policy-name"
	annotationDescription = "classroom.io/description"
	annotationMachineType = "classroom.io/machine-type"
	annotationKeyName     = "classroom.io/key-name"
	annotationTagPrefix   = "tags.classroom.io/"

	keyUserData      = "user-data"
	keyPrivateKey    = "id_rsa"
	keyAuthorizedKey = "id_rsa.pub"
	keyUnit          = "classroom-bootstrap.service"
)

// Cloud implements cloud.Compute and cloud.NetworkPolicies.
type Cloud struct {
	log       *logrus.Entry
	namespace string
	keyBits   int

	dCli      appsv1client.DeploymentInterface
	svcCli    corev1client.ServiceInterface
	secretCli corev1client.SecretInterface
	npCli     networkingv1client.NetworkPolicyInterface
}

var (
	_ cloud.Compute         = &Cloud{}
	_ cloud.NetworkPolicies = &Cloud{}
)

// New connects using kubeconfig, falling back to $KUBECONFIG and then to the
// in-cluster configuration.
func New(log *logrus.Entry, kubeconfig, namespace string) (*Cloud, error) {
	config, err := getConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	cli, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	return NewFromClient(log, cli, namespace), nil
}

func NewFromClient(log *logrus.Entry, cli kubernetes.Interface, namespace string) *Cloud {
	return &Cloud{
		log:       log.WithField("namespace", namespace),
		namespace: namespace,
		keyBits:   2048,
		dCli:      cli.AppsV1().Deployments(namespace),
		svcCli:    cli.CoreV1().Services(namespace),
		secretCli: cli.CoreV1().Secrets(namespace),
		npCli:     cli.NetworkingV1().NetworkPolicies(namespace),
	}
}

func (c *Cloud) Provider(scheduler cloud.EventScheduler) cloud.Provider {
	return cloud.Provider{Compute: c, Network: c, Scheduler: scheduler}
}

func getConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return rest.InClusterConfig()
}
