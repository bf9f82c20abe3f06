package kube

import (
	"context"
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	apiv1 "k8s.io/api/core/v1"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
	"github.com/mjudeikis/classroom-labs/pkg/network"
	"github.com/mjudeikis/classroom-labs/pkg/utils/keygen"
	"github.com/mjudeikis/classroom-labs/pkg/utils/random"
)

const (
	bootstrapMountPath = "/bootstrap"
	systemdUnitPath    = "/etc/systemd/system"
)

// bootstrapUnit runs the bootstrap script once systemd reaches the network.
var bootstrapUnit = `[Unit]
Description=Classroom bootstrap
Wants=network-online.target
After=network-online.target

[Service]
Type=oneshot
RemainAfterExit=yes
ExecStart=` + bootstrapMountPath + "/" + keyUserData + `

[Install]
WantedBy=multi-user.target
`

// CreateMachine creates the Secret, Deployment and Service of a new machine.
// Objects created before a failing step are left in place; TerminateMachine
// removes whatever exists.
func (c *Cloud) CreateMachine(ctx context.Context, spec cloud.MachineSpec) (*cloud.Machine, error) {
	suffix, err := random.LowerCaseAlphaString(10)
	if err != nil {
		return nil, err
	}
	name := "machine-" + suffix
	log := c.log.WithField("machine", name)

	secret, err := c.machineSecret(name, spec)
	if err != nil {
		return nil, err
	}
	if _, err := c.secretCli.Create(ctx, secret, metav1.CreateOptions{}); err != nil {
		return nil, err
	}
	if _, err := c.dCli.Create(ctx, machineDeployment(name, spec), metav1.CreateOptions{}); err != nil {
		return nil, err
	}
	if _, err := c.svcCli.Create(ctx, machineService(name), metav1.CreateOptions{}); err != nil {
		return nil, err
	}
	log.Infof("machine created from image %s", spec.ImageID)
	return &cloud.Machine{ID: name, State: api.MachineStatePending}, nil
}

// DescribeMachine reports a machine running once its pod is ready and its
// load balancer has an address.
func (c *Cloud) DescribeMachine(ctx context.Context, id string) (*cloud.Machine, error) {
	d, err := c.dCli.Get(ctx, id, metav1.GetOptions{})
	if kerrors.IsNotFound(err) {
		return nil, fmt.Errorf("machine %s: %w", id, cloud.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	m := &cloud.Machine{ID: id, State: api.MachineStatePending}
	switch {
	case d.DeletionTimestamp != nil:
		m.State = api.MachineStateShuttingDown
		return m, nil
	case d.Spec.Replicas != nil && *d.Spec.Replicas == 0:
		m.State = api.MachineStateStopped
		if d.Status.Replicas > 0 {
			m.State = api.MachineStateStopping
		}
		return m, nil
	case d.Status.ReadyReplicas < 1:
		return m, nil
	}

	svc, err := c.svcCli.Get(ctx, id, metav1.GetOptions{})
	if kerrors.IsNotFound(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	for _, ingress := range svc.Status.LoadBalancer.Ingress {
		address := ingress.Hostname
		if address == "" {
			address = ingress.IP
		}
		if address != "" {
			m.State = api.MachineStateRunning
			m.PublicAddress = address
			break
		}
	}
	return m, nil
}

// StopMachine scales the machine to zero, keeping its objects.
func (c *Cloud) StopMachine(ctx context.Context, id string) error {
	d, err := c.dCli.Get(ctx, id, metav1.GetOptions{})
	if kerrors.IsNotFound(err) {
		return fmt.Errorf("machine %s: %w", id, cloud.ErrNotFound)
	}
	if err != nil {
		return err
	}
	d.Spec.Replicas = int32Ptr(0)
	_, err = c.dCli.Update(ctx, d, metav1.UpdateOptions{})
	return err
}

func (c *Cloud) TerminateMachine(ctx context.Context, id string) error {
	err := c.dCli.Delete(ctx, id, metav1.DeleteOptions{})
	if kerrors.IsNotFound(err) {
		return fmt.Errorf("machine %s: %w", id, cloud.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if err := c.svcCli.Delete(ctx, id, metav1.DeleteOptions{}); err != nil && !kerrors.IsNotFound(err) {
		return err
	}
	if err := c.secretCli.Delete(ctx, id, metav1.DeleteOptions{}); err != nil && !kerrors.IsNotFound(err) {
		return err
	}
	c.log.WithField("machine", id).Info("machine deleted")
	return nil
}

func (c *Cloud) machineSecret(name string, spec cloud.MachineSpec) (*apiv1.Secret, error) {
	kp, err := keygen.Generate(c.keyBits)
	if err != nil {
		return nil, err
	}
	return &apiv1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{labelMachine: name},
		},
		Type: apiv1.SecretTypeOpaque,
		Data: map[string][]byte{
			keyUserData:      []byte(spec.UserData),
			keyPrivateKey:    kp.PrivateKey,
			keyAuthorizedKey: kp.AuthorizedKey,
			keyUnit:          []byte(bootstrapUnit),
		},
	}, nil
}

func machineDeployment(name string, spec cloud.MachineSpec) *appsv1.Deployment {
	podLabels := map[string]string{labelMachine: name}
	for _, id := range spec.PolicyIDs {
		podLabels[policyLabelPrefix+id] = "true"
	}
	annotations := map[string]string{
		annotationMachineType: spec.MachineType,
		annotationKeyName:     spec.KeyName,
	}
	for k, v := range spec.Tags {
		annotations[annotationTagPrefix+k] = v
	}

	ports := make([]apiv1.ContainerPort, 0, len(network.StandardRules))
	for _, r := range network.StandardRules {
		ports = append(ports, apiv1.ContainerPort{
			Name:          portName(r.FromPort),
			Protocol:      protocol(r.Protocol),
			ContainerPort: r.FromPort,
		})
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Labels:      map[string]string{labelMachine: name},
			Annotations: annotations,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: int32Ptr(1),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{labelMachine: name},
			},
			Strategy: appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType},
			Template: apiv1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: podLabels,
				},
				Spec: apiv1.PodSpec{
					Containers: []apiv1.Container{
						{
							Name:            "machine",
							Image:           spec.ImageID,
							ImagePullPolicy: apiv1.PullIfNotPresent,
							Ports:           ports,
							SecurityContext: &apiv1.SecurityContext{
								Privileged: boolPtr(true),
							},
							VolumeMounts: []apiv1.VolumeMount{
								{
									Name:      "bootstrap",
									ReadOnly:  true,
									MountPath: bootstrapMountPath,
								},
								{
									Name:      "bootstrap",
									ReadOnly:  true,
									MountPath: systemdUnitPath + "/" + keyUnit,
									SubPath:   keyUnit,
								},
								{
									Name:      "bootstrap",
									ReadOnly:  true,
									MountPath: systemdUnitPath + "/multi-user.target.wants/" + keyUnit,
									SubPath:   keyUnit,
								},
							},
						},
					},
					Volumes: []apiv1.Volume{
						{
							Name: "bootstrap",
							VolumeSource: apiv1.VolumeSource{
								Secret: &apiv1.SecretVolumeSource{
									SecretName:  name,
									DefaultMode: int32Ptr(0700),
								},
							},
						},
					},
				},
			},
		},
	}
}

func machineService(name string) *apiv1.Service {
	ports := make([]apiv1.ServicePort, 0, len(network.StandardRules))
	for _, r := range network.StandardRules {
		ports = append(ports, apiv1.ServicePort{
			Name:       portName(r.FromPort),
			Protocol:   protocol(r.Protocol),
			Port:       r.FromPort,
			TargetPort: intstr.FromInt32(r.FromPort),
		})
	}
	return &apiv1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{labelMachine: name},
		},
		Spec: apiv1.ServiceSpec{
			Ports:    ports,
			Type:     apiv1.ServiceTypeLoadBalancer,
			Selector: map[string]string{labelMachine: name},
		},
	}
}

func portName(port int32) string {
	return fmt.Sprintf("port-%d", port)
}

func protocol(p string) apiv1.Protocol {
	return apiv1.Protocol(strings.ToUpper(p))
}

func int32Ptr(i int32) *int32 { return &i }

func boolPtr(b bool) *bool { return &b }
