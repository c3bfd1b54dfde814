// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package route53 is the AWS::Route53::RecordSet provider, grounded on
// localstack's aws_route53_recordset.py resource provider: creation
// resolves a hosted zone by name when no id is given, normalizes
// ResourceRecords/AliasTarget/TTL into the shape the change-batch call
// expects, and issues a single UPSERT. Updates are not supported (the
// Python provider's update() raises NotImplementedError): IsUpdatable
// reports false and there is no update descriptor, so the deployment loop
// defers a Modify of this type as not deployable; the record is neither
// updated in place nor replaced.
package route53

import (
	"context"
	"fmt"

	"github.com/stackforge/deployengine/internal/providers"
	"github.com/stackforge/deployengine/internal/template"
)

// Provider implements providers.Interface for AWS::Route53::RecordSet.
type Provider struct {
	Clients providers.ServiceClientResolver
}

// New returns a Provider that resolves its Route53 client through resolve.
func New(resolve providers.ServiceClientResolver) *Provider {
	return &Provider{Clients: resolve}
}

func (p *Provider) TypeName() string { return "AWS::Route53::RecordSet" }

// AddDefaults has nothing to inject: every required field (Name, Type) must
// come from the author, matching the upstream schema's required list.
func (p *Provider) AddDefaults(ctx context.Context, res *template.Resource, stackName string) {}

func (p *Provider) IsUpdatable() bool { return false }

// Ref resolves to the record name. The upstream provider never defines a
// distinct primary identifier beyond "the name we were given" (it even sets
// model["Id"] = model["Name"] in create()), so the deployment engine takes
// the record name as this type's PhysicalResourceId (spec.md §9 Open
// Question (a)).
func (p *Provider) Ref(ctx context.Context, res *template.Resource) (any, error) {
	return res.PhysicalResourceID, nil
}

func (p *Provider) Attribute(ctx context.Context, res *template.Resource, name string) (any, bool, error) {
	if name == "Id" {
		return res.PhysicalResourceID, true, nil
	}
	return nil, false, nil
}

func (p *Provider) PhysicalID(res *template.Resource) string {
	return res.PhysicalResourceID
}

// FetchState cannot discover out-of-band record sets: the upstream
// provider's read() is an unimplemented stub, so there is nothing to port.
func (p *Provider) FetchState(ctx context.Context, stackName string, res *template.Resource) error {
	return nil
}

func (p *Provider) DeployTemplates() map[providers.Action][]providers.Descriptor {
	return map[providers.Action][]providers.Descriptor{
		providers.ActionCreate: {{Kind: providers.KindDirect, DirectFunc: p.create}},
		providers.ActionDelete: {{Kind: providers.KindDirect, DirectFunc: p.delete}},
	}
}

var recordSetAttrNames = []string{
	"Name", "Type", "SetIdentifier", "Weight", "Region", "GeoLocation",
	"Failover", "MultiValueAnswer", "TTL", "ResourceRecords", "AliasTarget",
	"HealthCheckId",
}

func (p *Provider) create(ctx context.Context, resourceID string, resources map[string]*template.Resource, resourceType string, desc providers.Descriptor, stackName string) (any, error) {
	res := resources[resourceID]
	props := res.Properties

	client, err := p.Clients(ctx, resourceType, stackName)
	if err != nil {
		return nil, fmt.Errorf("route53: resolving client: %w", err)
	}

	hostedZoneID, _ := props["HostedZoneId"].(string)
	if hostedZoneID == "" {
		hostedZoneName, _ := props["HostedZoneName"].(string)
		id, err := p.hostedZoneIDFromName(ctx, client, hostedZoneName)
		if err != nil {
			return nil, err
		}
		hostedZoneID = id
	}

	attrs := selectAttributes(props, recordSetAttrNames)
	normalizeRecordSetAttrs(attrs)

	if _, err := client.Invoke(ctx, "ChangeResourceRecordSets", map[string]any{
		"HostedZoneId": hostedZoneID,
		"ChangeBatch": map[string]any{
			"Changes": []any{
				map[string]any{
					"Action":           "UPSERT",
					"ResourceRecordSet": attrs,
				},
			},
		},
	}); err != nil {
		return nil, err
	}

	name, _ := props["Name"].(string)
	res.PhysicalResourceID = name
	return nil, nil
}

func (p *Provider) delete(ctx context.Context, resourceID string, resources map[string]*template.Resource, resourceType string, desc providers.Descriptor, stackName string) (any, error) {
	res := resources[resourceID]
	props := res.Properties

	hostedZoneID, _ := props["HostedZoneId"].(string)
	rrset := map[string]any{
		"Name": props["Name"],
		"Type": props["Type"],
	}
	if alias, ok := props["AliasTarget"]; ok {
		rrset["AliasTarget"] = alias
	}
	if records, ok := props["ResourceRecords"].([]any); ok {
		rrset["ResourceRecords"] = wrapResourceRecords(records)
	}
	if ttl, ok := props["TTL"]; ok {
		rrset["TTL"] = ttl
	}

	client, err := p.Clients(ctx, resourceType, stackName)
	if err != nil {
		return nil, fmt.Errorf("route53: resolving client: %w", err)
	}

	_, err = client.Invoke(ctx, "ChangeResourceRecordSets", map[string]any{
		"HostedZoneId": hostedZoneID,
		"ChangeBatch": map[string]any{
			"Changes": []any{
				map[string]any{
					"Action":           "DELETE",
					"ResourceRecordSet": rrset,
				},
			},
		},
	})
	return nil, err
}

func (p *Provider) hostedZoneIDFromName(ctx context.Context, client providers.ServiceClient, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("route53: either HostedZoneId or HostedZoneName must be present")
	}
	result, err := client.Invoke(ctx, "ListHostedZonesByName", map[string]any{"DNSName": name})
	if err != nil {
		return "", err
	}
	resultMap, _ := result.(map[string]any)
	zonesAny, _ := resultMap["HostedZones"].([]any)
	if len(zonesAny) != 1 {
		return "", fmt.Errorf("route53: ambiguous HostedZoneName %q provided", name)
	}
	zone, _ := zonesAny[0].(map[string]any)
	id, _ := zone["Id"].(string)
	return id, nil
}

// selectAttributes copies only the named keys out of props, matching
// util.select_attributes in the upstream provider.
func selectAttributes(props map[string]any, names []string) map[string]any {
	out := map[string]any{}
	for _, name := range names {
		if v, ok := props[name]; ok {
			out[name] = v
		}
	}
	return out
}

// normalizeRecordSetAttrs applies the upstream create()'s three shape
// corrections in place: an AliasTarget defaults EvaluateTargetHealth to
// false when omitted; a non-alias record set wraps each plain string in
// ResourceRecords as {"Value": record}; a string TTL is converted to a
// number.
func normalizeRecordSetAttrs(attrs map[string]any) {
	if alias, ok := attrs["AliasTarget"].(map[string]any); ok {
		if _, has := alias["EvaluateTargetHealth"]; !has {
			alias["EvaluateTargetHealth"] = false
		}
	} else if records, ok := attrs["ResourceRecords"].([]any); ok {
		attrs["ResourceRecords"] = wrapResourceRecords(records)
	}

	if ttl, ok := attrs["TTL"].(string); ok {
		var n int
		if _, err := fmt.Sscanf(ttl, "%d", &n); err == nil {
			attrs["TTL"] = n
		}
	}
}

func wrapResourceRecords(records []any) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = map[string]any{"Value": r}
	}
	return out
}
