// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/deployengine/internal/invoke"
	"github.com/stackforge/deployengine/internal/lang"
	"github.com/stackforge/deployengine/internal/plans"
	"github.com/stackforge/deployengine/internal/providers"
	"github.com/stackforge/deployengine/internal/template"
)

// recordingProvider is a minimal providers.Interface implementation that
// records the order its create action is invoked in, for asserting
// dependency-respecting deployment order.
type recordingProvider struct {
	typeName   string
	order      *[]string
	updatable  bool
	createFail bool

	// alreadyDeployed simulates a resource FetchState discovers already
	// exists out of band: PhysicalID is populated without create ever
	// running.
	alreadyDeployed bool
}

func (p *recordingProvider) TypeName() string { return p.typeName }
func (p *recordingProvider) AddDefaults(ctx context.Context, res *template.Resource, stackName string) {
}
func (p *recordingProvider) IsUpdatable() bool { return p.updatable }
func (p *recordingProvider) Ref(ctx context.Context, res *template.Resource) (any, error) {
	return res.PhysicalResourceID, nil
}
func (p *recordingProvider) Attribute(ctx context.Context, res *template.Resource, name string) (any, bool, error) {
	if name == "Id" {
		return res.PhysicalResourceID, true, nil
	}
	return nil, false, nil
}
func (p *recordingProvider) PhysicalID(res *template.Resource) string { return res.PhysicalResourceID }
func (p *recordingProvider) FetchState(ctx context.Context, stackName string, res *template.Resource) error {
	if p.alreadyDeployed {
		res.PhysicalResourceID = res.LogicalID + "-preexisting"
	}
	return nil
}
func (p *recordingProvider) DeployTemplates() map[providers.Action][]providers.Descriptor {
	return map[providers.Action][]providers.Descriptor{
		providers.ActionCreate: {{
			Kind: providers.KindDirect,
			DirectFunc: func(ctx context.Context, resourceID string, resources map[string]*template.Resource, resourceType string, desc providers.Descriptor, stackName string) (any, error) {
				*p.order = append(*p.order, resourceID)
				resources[resourceID].PhysicalResourceID = resourceID + "-id"
				return nil, nil
			},
		}},
		providers.ActionDelete: {{
			Kind: providers.KindDirect,
			DirectFunc: func(ctx context.Context, resourceID string, resources map[string]*template.Resource, resourceType string, desc providers.Descriptor, stackName string) (any, error) {
				*p.order = append(*p.order, "delete:"+resourceID)
				return nil, nil
			},
		}},
	}
}

func newDeployer() *Deployer {
	return New(invoke.New(nil, ""))
}

func newStackContext(registry *providers.Registry, resources map[string]*template.Resource) *lang.StackContext {
	return &lang.StackContext{
		StackName: "test-stack",
		Region:    "us-east-1",
		Partition: "aws",
		Resources: resources,
		Registry:  registry,
	}
}

func TestRunDeploysDependentResourceAfterItsDependency(t *testing.T) {
	var order []string
	registry := providers.NewRegistry()
	registry.Register(&recordingProvider{typeName: "Zone::Type", order: &order, updatable: true})
	registry.Register(&recordingProvider{typeName: "Record::Type", order: &order, updatable: true})

	zone := &template.Resource{LogicalID: "Zone", Type: "Zone::Type", Properties: map[string]any{}, OriginalProperties: map[string]any{}}
	record := &template.Resource{
		LogicalID:          "Record",
		Type:               "Record::Type",
		Properties:         map[string]any{"Target": map[string]any{"Ref": "Zone"}},
		OriginalProperties: map[string]any{"Target": map[string]any{"Ref": "Zone"}},
	}

	sc := newStackContext(registry, map[string]*template.Resource{})
	changes := []plans.ResourceChange{
		{Action: plans.ActionAdd, LogicalID: "Record", ResourceType: "Record::Type", After: record},
		{Action: plans.ActionAdd, LogicalID: "Zone", ResourceType: "Zone::Type", After: zone},
	}

	err := newDeployer().Run(context.Background(), sc, changes, "test-stack")
	require.NoError(t, err)
	require.Equal(t, []string{"Zone", "Record"}, order, "dependency must deploy before its dependent regardless of change-set order")

	assert.Equal(t, template.StatusCreateComplete, sc.Resources["Zone"].ResourceStatus)
	assert.Equal(t, template.StatusCreateComplete, sc.Resources["Record"].ResourceStatus)
}

func TestRunSkipsCreateWhenProviderReportsResourceAlreadyDeployed(t *testing.T) {
	var order []string
	registry := providers.NewRegistry()
	registry.Register(&recordingProvider{typeName: "Zone::Type", order: &order, updatable: true, alreadyDeployed: true})

	zone := &template.Resource{LogicalID: "Zone", Type: "Zone::Type", Properties: map[string]any{}, OriginalProperties: map[string]any{}}
	sc := newStackContext(registry, map[string]*template.Resource{})
	changes := []plans.ResourceChange{{Action: plans.ActionAdd, LogicalID: "Zone", ResourceType: "Zone::Type", After: zone}}

	err := newDeployer().Run(context.Background(), sc, changes, "test-stack")
	require.NoError(t, err)

	assert.Empty(t, order, "create must not run when FetchState reports the resource already exists")
	assert.Equal(t, template.StatusCreateComplete, sc.Resources["Zone"].ResourceStatus)
	assert.Equal(t, "Zone-preexisting", sc.Resources["Zone"].PhysicalResourceID)
}

func TestRunSkipsResourceWhenConditionFalse(t *testing.T) {
	registry := providers.NewRegistry()
	var order []string
	registry.Register(&recordingProvider{typeName: "Zone::Type", order: &order, updatable: true})

	res := &template.Resource{
		LogicalID:          "Zone",
		Type:               "Zone::Type",
		Condition:          "NeverTrue",
		Properties:         map[string]any{},
		OriginalProperties: map[string]any{},
	}
	sc := newStackContext(registry, map[string]*template.Resource{})
	sc.Conditions = map[string]any{"NeverTrue": false}

	changes := []plans.ResourceChange{{Action: plans.ActionAdd, LogicalID: "Zone", ResourceType: "Zone::Type", After: res}}
	err := newDeployer().Run(context.Background(), sc, changes, "test-stack")
	require.NoError(t, err)

	assert.Empty(t, order, "provider's create action must not run when the condition is false")
	assert.Equal(t, template.StatusCreateComplete, sc.Resources["Zone"].ResourceStatus)
}

func TestRunMarksUnknownResourceTypeFailedButContinues(t *testing.T) {
	registry := providers.NewRegistry()
	res := &template.Resource{LogicalID: "Mystery", Type: "AWS::Does::NotExist", Properties: map[string]any{}, OriginalProperties: map[string]any{}}
	sc := newStackContext(registry, map[string]*template.Resource{})

	changes := []plans.ResourceChange{{Action: plans.ActionAdd, LogicalID: "Mystery", ResourceType: "AWS::Does::NotExist", After: res}}
	err := newDeployer().Run(context.Background(), sc, changes, "test-stack")
	require.NoError(t, err, "an unknown resource type is logged and skipped, not fatal to the whole stack")
	assert.Equal(t, template.StatusCreateFailed, sc.Resources["Mystery"].ResourceStatus)
}

func TestRunDeletesDependentBeforeItsDependency(t *testing.T) {
	var order []string
	registry := providers.NewRegistry()
	registry.Register(&recordingProvider{typeName: "Zone::Type", order: &order, updatable: true})
	registry.Register(&recordingProvider{typeName: "Record::Type", order: &order, updatable: true})

	zone := &template.Resource{LogicalID: "Zone", Type: "Zone::Type", ResourceStatus: template.StatusCreateComplete, OriginalProperties: map[string]any{}}
	record := &template.Resource{
		LogicalID:          "Record",
		Type:               "Record::Type",
		ResourceStatus:     template.StatusCreateComplete,
		OriginalProperties: map[string]any{"Target": map[string]any{"Ref": "Zone"}},
	}

	resources := map[string]*template.Resource{"Zone": zone, "Record": record}
	sc := newStackContext(registry, resources)

	changes := []plans.ResourceChange{
		{Action: plans.ActionRemove, LogicalID: "Zone", ResourceType: "Zone::Type", Before: zone},
		{Action: plans.ActionRemove, LogicalID: "Record", ResourceType: "Record::Type", Before: record},
	}

	err := newDeployer().Run(context.Background(), sc, changes, "test-stack")
	require.NoError(t, err)
	require.Equal(t, []string{"delete:Record", "delete:Zone"}, order, "dependent must be removed before its dependency")

	_, zoneStillThere := sc.Resources["Zone"]
	_, recordStillThere := sc.Resources["Record"]
	assert.False(t, zoneStillThere)
	assert.False(t, recordStillThere)
}

func TestRunFailsWhenUpdateUnsupportedByProvider(t *testing.T) {
	registry := providers.NewRegistry()
	var order []string
	registry.Register(&recordingProvider{typeName: "Zone::Type", order: &order, updatable: false})

	res := &template.Resource{LogicalID: "Zone", Type: "Zone::Type", ResourceStatus: template.StatusCreateComplete, Properties: map[string]any{}, OriginalProperties: map[string]any{}}
	sc := newStackContext(registry, map[string]*template.Resource{"Zone": res})

	changes := []plans.ResourceChange{{Action: plans.ActionModify, LogicalID: "Zone", ResourceType: "Zone::Type", Before: res, After: res}}
	err := newDeployer().Run(context.Background(), sc, changes, "test-stack")
	require.Error(t, err, "a Modify against a non-updatable provider can never make progress and should surface as an error")
}
