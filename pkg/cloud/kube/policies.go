package kube

import (
	"context"
	"fmt"
	"strings"

	apiv1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
	"github.com/mjudeikis/classroom-labs/pkg/utils/random"
)

// ListPolicies returns the NetworkPolicies owned by the classroom. The
// policy name is kept in an annotation since object names must be DNS
// labels.
func (c *Cloud) ListPolicies(ctx context.Context) ([]api.NetworkPolicy, error) {
	list, err := c.npCli.List(ctx, metav1.ListOptions{LabelSelector: labelPolicy + "=true"})
	if err != nil {
		return nil, err
	}
	policies := make([]api.NetworkPolicy, 0, len(list.Items))
	for i := range list.Items {
		policies = append(policies, policy(&list.Items[i]))
	}
	return policies, nil
}

func (c *Cloud) CreatePolicy(ctx context.Context, name, description string) (*api.NetworkPolicy, error) {
	suffix, err := random.LowerCaseAlphaString(8)
	if err != nil {
		return nil, err
	}
	id := "policy-" + suffix
	np := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:   id,
			Labels: map[string]string{labelPolicy: "true"},
			Annotations: map[string]string{
				annotationPolicyName:  name,
				annotationDescription: description,
			},
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{
				MatchLabels: map[string]string{policyLabelPrefix + id: "true"},
			},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
		},
	}
	created, err := c.npCli.Create(ctx, np, metav1.CreateOptions{})
	if err != nil {
		return nil, err
	}
	p := policy(created)
	return &p, nil
}

// AuthorizeIngress appends rule to the policy. Concurrent writers are
// detected by the API server through the resource version.
func (c *Cloud) AuthorizeIngress(ctx context.Context, policyID string, rule api.IngressRule) error {
	np, err := c.npCli.Get(ctx, policyID, metav1.GetOptions{})
	if kerrors.IsNotFound(err) {
		return fmt.Errorf("policy %s: %w", policyID, cloud.ErrNotFound)
	}
	if err != nil {
		return err
	}
	for _, existing := range rules(np) {
		if existing == rule {
			return cloud.ErrRuleExists
		}
	}
	np.Spec.Ingress = append(np.Spec.Ingress, ingressRule(rule))
	_, err = c.npCli.Update(ctx, np, metav1.UpdateOptions{})
	return err
}

func ingressRule(rule api.IngressRule) networkingv1.NetworkPolicyIngressRule {
	proto := apiv1.Protocol(strings.ToUpper(rule.Protocol))
	port := intstr.FromInt32(rule.FromPort)
	np := networkingv1.NetworkPolicyPort{Protocol: &proto, Port: &port}
	if rule.ToPort != rule.FromPort {
		np.EndPort = int32Ptr(rule.ToPort)
	}
	return networkingv1.NetworkPolicyIngressRule{
		Ports: []networkingv1.NetworkPolicyPort{np},
		From:  []networkingv1.NetworkPolicyPeer{{IPBlock: &networkingv1.IPBlock{CIDR: rule.CIDR}}},
	}
}

func policy(np *networkingv1.NetworkPolicy) api.NetworkPolicy {
	return api.NetworkPolicy{
		ID:          np.Name,
		Name:        np.Annotations[annotationPolicyName],
		Description: np.Annotations[annotationDescription],
		Rules:       rules(np),
	}
}

func rules(np *networkingv1.NetworkPolicy) []api.IngressRule {
	var out []api.IngressRule
	for _, in := range np.Spec.Ingress {
		for _, port := range in.Ports {
			if port.Port == nil {
				continue
			}
			r := api.IngressRule{
				Protocol: "tcp",
				FromPort: port.Port.IntVal,
				ToPort:   port.Port.IntVal,
			}
			if port.Protocol != nil {
				r.Protocol = strings.ToLower(string(*port.Protocol))
			}
			if port.EndPort != nil {
				r.ToPort = *port.EndPort
			}
			for _, peer := range in.From {
				if peer.IPBlock == nil {
					continue
				}
				r.CIDR = peer.IPBlock.CIDR
				out = append(out, r)
			}
		}
	}
	return out
}
