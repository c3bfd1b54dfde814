// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lang

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/deployengine/internal/engineerrors"
	"github.com/stackforge/deployengine/internal/providers"
	"github.com/stackforge/deployengine/internal/template"
)

type fakeProvider struct {
	typeName   string
	ref        any
	attributes map[string]any
}

func (f *fakeProvider) TypeName() string { return f.typeName }
func (f *fakeProvider) AddDefaults(ctx context.Context, res *template.Resource, stackName string) {
}
func (f *fakeProvider) IsUpdatable() bool { return true }
func (f *fakeProvider) Ref(ctx context.Context, res *template.Resource) (any, error) {
	return f.ref, nil
}
func (f *fakeProvider) Attribute(ctx context.Context, res *template.Resource, name string) (any, bool, error) {
	v, ok := f.attributes[name]
	return v, ok, nil
}
func (f *fakeProvider) PhysicalID(res *template.Resource) string { return res.PhysicalResourceID }
func (f *fakeProvider) FetchState(ctx context.Context, stackName string, res *template.Resource) error {
	return nil
}
func (f *fakeProvider) DeployTemplates() map[providers.Action][]providers.Descriptor { return nil }

func newTestContext(t *testing.T) (*StackContext, *providers.Registry) {
	t.Helper()
	registry := providers.NewRegistry()
	registry.Register(&fakeProvider{
		typeName:   "AWS::Route53::RecordSet",
		ref:        "example.com",
		attributes: map[string]any{"Id": "ZONE123"},
	})

	sc := &StackContext{
		StackName: "my-stack",
		StackID:   "stack-id-1",
		Region:    "us-east-1",
		Partition: "aws",
		AccountID: "123456789012",
		URLSuffix: "amazonaws.com",
		Resources: map[string]*template.Resource{
			"Zone": {
				LogicalID:          "Zone",
				Type:               "AWS::Route53::RecordSet",
				ResourceStatus:     template.StatusCreateComplete,
				PhysicalResourceID: "example.com",
			},
			"Pending": {
				LogicalID:      "Pending",
				Type:           "AWS::Route53::RecordSet",
				ResourceStatus: template.StatusCreateInProgress,
			},
		},
		Parameters: map[string]any{"Env": "prod"},
		Conditions: map[string]any{
			"IsProd": map[string]any{"Fn::Equals": []any{map[string]any{"Ref": "Env"}, "prod"}},
		},
		Mappings: map[string]map[string]map[string]any{
			"RegionMap": {"us-east-1": {"AMI": "ami-111", "Count": 3.0}},
		},
		Registry: registry,
	}
	return sc, registry
}

func TestEvaluatePseudoParameters(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Ref": "AWS::Region"})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", v)

	v, err = e.Evaluate(context.Background(), map[string]any{"Ref": "AWS::AccountId"})
	require.NoError(t, err)
	assert.Equal(t, "123456789012", v)
}

func TestEvaluateRefToParameter(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Ref": "Env"})
	require.NoError(t, err)
	assert.Equal(t, "prod", v)
}

func TestEvaluateRefToCompleteResourceDelegatesToProvider(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Ref": "Zone"})
	require.NoError(t, err)
	assert.Equal(t, "example.com", v)
}

func TestEvaluateRefToIncompleteResourceDefers(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	_, err := e.Evaluate(context.Background(), map[string]any{"Ref": "Pending"})
	require.Error(t, err)
	assert.True(t, engineerrors.IsDependencyNotYetSatisfied(err))
}

func TestEvaluateGetAttBothForms(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::GetAtt": []any{"Zone", "Id"}})
	require.NoError(t, err)
	assert.Equal(t, "ZONE123", v)

	v, err = e.Evaluate(context.Background(), map[string]any{"Fn::GetAtt": "Zone.Id"})
	require.NoError(t, err)
	assert.Equal(t, "ZONE123", v)
}

func TestEvaluateGetAttUnavailableAttributeDefers(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	_, err := e.Evaluate(context.Background(), map[string]any{"Fn::GetAtt": []any{"Zone", "Unknown"}})
	require.Error(t, err)
	assert.True(t, engineerrors.IsDependencyNotYetSatisfied(err))
}

func TestEvaluateNoValueStripsContainerElements(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{
		"Keep":      "yes",
		"DropMe":    map[string]any{"Ref": "AWS::NoValue"},
		"ListEntry": []any{"a", map[string]any{"Ref": "AWS::NoValue"}, "b"},
	})
	require.NoError(t, err)
	m := v.(map[string]any)
	_, hasDropped := m["DropMe"]
	assert.False(t, hasDropped)
	assert.Equal(t, []any{"a", "b"}, m["ListEntry"])
}

func TestEvaluateSubWithDottedGetAtt(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::Sub": "zone=${Zone.Id} env=${Env}"})
	require.NoError(t, err)
	assert.Equal(t, "zone=ZONE123 env=prod", v)
}

func TestEvaluateSubWithExplicitVars(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{
		"Fn::Sub": []any{"hello ${Who}", map[string]any{"Who": "world"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", v)
}

func TestEvaluateJoinAndSplit(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	joined, err := e.Evaluate(context.Background(), map[string]any{"Fn::Join": []any{"-", []any{"a", "b", "c"}}})
	require.NoError(t, err)
	assert.Equal(t, "a-b-c", joined)

	split, err := e.Evaluate(context.Background(), map[string]any{"Fn::Split": []any{"-", "a-b-c"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, split)
}

func TestEvaluateJoinRejectsNullElement(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	_, err := e.Evaluate(context.Background(), map[string]any{"Fn::Join": []any{"-", []any{"a", nil}}})
	require.Error(t, err)
}

func TestEvaluateSelect(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::Select": []any{1.0, []any{"a", "b", "c"}}})
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, err = e.Evaluate(context.Background(), map[string]any{"Fn::Select": []any{5.0, []any{"a"}}})
	require.Error(t, err)
}

func TestEvaluateFindInMap(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::FindInMap": []any{"RegionMap", "us-east-1", "AMI"}})
	require.NoError(t, err)
	assert.Equal(t, "ami-111", v)

	missingLeaf, err := e.Evaluate(context.Background(), map[string]any{"Fn::FindInMap": []any{"RegionMap", "us-east-1", "Missing"}})
	require.NoError(t, err)
	assert.Nil(t, missingLeaf)

	_, err = e.Evaluate(context.Background(), map[string]any{"Fn::FindInMap": []any{"NoSuchMap", "x", "y"}})
	require.Error(t, err)
}

func TestEvaluateImportValueMissingExportResolvesNil(t *testing.T) {
	sc, _ := newTestContext(t)
	sc.Exports = missingExports{}
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::ImportValue": "some-export"})
	require.NoError(t, err)
	assert.Nil(t, v)
}

type missingExports struct{}

func (missingExports) Lookup(name string) (string, bool) { return "", false }

func TestEvaluateImportValueFoundExport(t *testing.T) {
	sc, _ := newTestContext(t)
	sc.Exports = foundExports{value: "exported-value"}
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::ImportValue": "some-export"})
	require.NoError(t, err)
	assert.Equal(t, "exported-value", v)
}

type foundExports struct{ value string }

func (f foundExports) Lookup(name string) (string, bool) { return f.value, true }

func TestEvaluateConditionFunctions(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::Condition": "IsProd"})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	notV, err := e.Evaluate(context.Background(), map[string]any{"Fn::Not": []any{map[string]any{"Fn::Condition": "IsProd"}}})
	require.NoError(t, err)
	assert.Equal(t, false, notV)

	andV, err := e.Evaluate(context.Background(), map[string]any{"Fn::And": []any{true, map[string]any{"Fn::Condition": "IsProd"}}})
	require.NoError(t, err)
	assert.Equal(t, true, andV)

	orV, err := e.Evaluate(context.Background(), map[string]any{"Fn::Or": []any{false, false}})
	require.NoError(t, err)
	assert.Equal(t, false, orV)
}

func TestEvaluateIfBranchesOnCondition(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::If": []any{"IsProd", "prod-value", "dev-value"}})
	require.NoError(t, err)
	assert.Equal(t, "prod-value", v)
}

func TestEvaluateEqualsCoercesNumericStrings(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::Equals": []any{1.0, "1"}})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEvaluateGetAZsReturnsFourZones(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::GetAZs": ""})
	require.NoError(t, err)
	zones := v.([]any)
	require.Len(t, zones, 4)
	assert.Equal(t, "us-east-1a", zones[0])
	assert.Equal(t, "us-east-1d", zones[3])
}

func TestEvaluateBase64(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	v, err := e.Evaluate(context.Background(), map[string]any{"Fn::Base64": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", v)
}

func TestEvaluateRecursionDepthGuardDoesNotPanic(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	var nested any = "leaf"
	for i := 0; i < maxRecursionDepth+5; i++ {
		nested = []any{nested}
	}
	_, err := e.Evaluate(context.Background(), nested)
	require.NoError(t, err)
}

func TestEvaluateUnknownFnKeyIsPlainMapping(t *testing.T) {
	sc, _ := newTestContext(t)
	e := New(sc)

	got, err := e.Evaluate(context.Background(), map[string]any{"Fn::DoesNotExist": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Fn::DoesNotExist": "x"}, got)
}
