package kube

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apiv1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
	"github.com/mjudeikis/classroom-labs/pkg/network"
)

const namespace = "classroom"

func newCloud() (*Cloud, *fake.Clientset) {
	cli := fake.NewSimpleClientset()
	c := NewFromClient(logrus.NewEntry(logrus.New()), cli, namespace)
	c.keyBits = 1024
	return c, cli
}

func TestCreateMachine(t *testing.T) {
	ctx := context.Background()
	c, cli := newCloud()

	m, err := c.CreateMachine(ctx, cloud.MachineSpec{
		ImageID:     "ubuntu:20.04",
		MachineType: "t3.micro",
		UserData:    "#!/bin/bash\necho hi\n",
		PolicyIDs:   []string{"policy-abcdefgh"},
		Tags:        map[string]string{"Name": "TLJH-Instance-1-x"},
	})
	require.NoError(t, err)
	assert.Equal(t, api.MachineStatePending, m.State)

	d, err := cli.AppsV1().Deployments(namespace).Get(ctx, m.ID, metav1.GetOptions{})
	require.NoError(t, err)
	pod := d.Spec.Template
	assert.Equal(t, "true", pod.Labels["policy.classroom.io/policy-abcdefgh"])
	assert.Equal(t, "ubuntu:20.04", pod.Spec.Containers[0].Image)
	assert.Len(t, pod.Spec.Containers[0].Ports, 3)
	assert.Equal(t, "TLJH-Instance-1-x", d.Annotations["tags.classroom.io/Name"])

	svc, err := cli.CoreV1().Services(namespace).Get(ctx, m.ID, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, apiv1.ServiceTypeLoadBalancer, svc.Spec.Type)
	require.Len(t, svc.Spec.Ports, 3)
	assert.Equal(t, int32(22), svc.Spec.Ports[0].Port)

	secret, err := cli.CoreV1().Secrets(namespace).Get(ctx, m.ID, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\necho hi\n", string(secret.Data[keyUserData]))
	assert.Contains(t, string(secret.Data[keyPrivateKey]), "RSA PRIVATE KEY")
	assert.Contains(t, string(secret.Data[keyAuthorizedKey]), "ssh-rsa ")
	assert.Contains(t, string(secret.Data[keyUnit]), "ExecStart=/bootstrap/user-data")
}

func TestMachineBootsBootstrapUnit(t *testing.T) {
	ctx := context.Background()
	c, cli := newCloud()

	m, err := c.CreateMachine(ctx, cloud.MachineSpec{ImageID: "jrei/systemd-ubuntu:20.04"})
	require.NoError(t, err)

	d, err := cli.AppsV1().Deployments(namespace).Get(ctx, m.ID, metav1.GetOptions{})
	require.NoError(t, err)
	container := d.Spec.Template.Spec.Containers[0]

	// the image entrypoint must stay in charge so systemd runs as pid 1
	assert.Empty(t, container.Command)
	require.NotNil(t, container.SecurityContext)
	assert.True(t, *container.SecurityContext.Privileged)

	mounts := map[string]string{}
	for _, vm := range container.VolumeMounts {
		mounts[vm.MountPath] = vm.SubPath
	}
	assert.Contains(t, mounts, "/bootstrap")
	assert.Equal(t, keyUnit, mounts["/etc/systemd/system/classroom-bootstrap.service"])
	assert.Equal(t, keyUnit, mounts["/etc/systemd/system/multi-user.target.wants/classroom-bootstrap.service"])
}

func TestDescribeMachineLifecycle(t *testing.T) {
	ctx := context.Background()
	c, cli := newCloud()

	m, err := c.CreateMachine(ctx, cloud.MachineSpec{ImageID: "ubuntu:20.04"})
	require.NoError(t, err)

	got, err := c.DescribeMachine(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, api.MachineStatePending, got.State)

	d, err := cli.AppsV1().Deployments(namespace).Get(ctx, m.ID, metav1.GetOptions{})
	require.NoError(t, err)
	d.Status.Replicas = 1
	d.Status.ReadyReplicas = 1
	_, err = cli.AppsV1().Deployments(namespace).UpdateStatus(ctx, d, metav1.UpdateOptions{})
	require.NoError(t, err)

	// ready pod without a load balancer address is not reachable yet
	got, err = c.DescribeMachine(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, api.MachineStatePending, got.State)

	svc, err := cli.CoreV1().Services(namespace).Get(ctx, m.ID, metav1.GetOptions{})
	require.NoError(t, err)
	svc.Status.LoadBalancer.Ingress = []apiv1.LoadBalancerIngress{{IP: "203.0.113.10"}}
	_, err = cli.CoreV1().Services(namespace).UpdateStatus(ctx, svc, metav1.UpdateOptions{})
	require.NoError(t, err)

	got, err = c.DescribeMachine(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, api.MachineStateRunning, got.State)
	assert.Equal(t, "203.0.113.10", got.PublicAddress)

	require.NoError(t, c.StopMachine(ctx, m.ID))
	got, err = c.DescribeMachine(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, api.MachineStateStopping, got.State)

	require.NoError(t, c.TerminateMachine(ctx, m.ID))
	_, err = c.DescribeMachine(ctx, m.ID)
	assert.True(t, errors.Is(err, cloud.ErrNotFound))
	_, err = cli.CoreV1().Secrets(namespace).Get(ctx, m.ID, metav1.GetOptions{})
	assert.Error(t, err)

	assert.True(t, errors.Is(c.TerminateMachine(ctx, m.ID), cloud.ErrNotFound))
	assert.True(t, errors.Is(c.StopMachine(ctx, m.ID), cloud.ErrNotFound))
}

func TestPolicies(t *testing.T) {
	ctx := context.Background()
	c, _ := newCloud()
	m := network.New(logrus.NewEntry(logrus.New()), c)

	id, err := m.EnsurePolicy(ctx, "TLJH-SG", "Security group for TLJH EC2 instances")
	require.NoError(t, err)
	again, err := m.EnsurePolicy(ctx, "TLJH-SG", "Security group for TLJH EC2 instances")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	assert.True(t, m.SetupStandardRules(ctx, id))
	assert.True(t, m.SetupStandardRules(ctx, id))

	policies, err := c.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "TLJH-SG", policies[0].Name)
	assert.Equal(t, network.StandardRules, policies[0].Rules)

	err = c.AuthorizeIngress(ctx, "policy-missing", network.StandardRules[0])
	assert.True(t, errors.Is(err, cloud.ErrNotFound))
}

func TestPortRangeRule(t *testing.T) {
	ctx := context.Background()
	c, _ := newCloud()

	p, err := c.CreatePolicy(ctx, "range", "")
	require.NoError(t, err)
	rule := api.IngressRule{Protocol: "tcp", FromPort: 8000, ToPort: 8100, CIDR: "10.0.0.0/8"}
	require.NoError(t, c.AuthorizeIngress(ctx, p.ID, rule))
	assert.True(t, errors.Is(c.AuthorizeIngress(ctx, p.ID, rule), cloud.ErrRuleExists))

	policies, err := c.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []api.IngressRule{rule}, policies[0].Rules)
}
