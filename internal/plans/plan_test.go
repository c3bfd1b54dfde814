// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/deployengine/internal/engineerrors"
	"github.com/stackforge/deployengine/internal/template"
)

func TestDiffAddsEveryResourceForBrandNewStack(t *testing.T) {
	after := &template.Template{
		Resources: map[string]*template.Resource{
			"Zone":   {LogicalID: "Zone", Type: "AWS::Route53::RecordSet"},
			"Record": {LogicalID: "Record", Type: "AWS::Route53::RecordSet"},
		},
	}

	changes, err := Diff(nil, after, true)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	// Fixed emission order: within one action, sorted by logical id.
	assert.Equal(t, "Record", changes[0].LogicalID)
	assert.Equal(t, ActionAdd, changes[0].Action)
	assert.Equal(t, "Zone", changes[1].LogicalID)
}

func TestDiffDetectsRemovals(t *testing.T) {
	before := &template.Template{
		Resources: map[string]*template.Resource{
			"Zone": {LogicalID: "Zone", Type: "AWS::Route53::RecordSet"},
		},
	}

	changes, err := Diff(before, nil, false)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ActionRemove, changes[0].Action)
	assert.Equal(t, "Zone", changes[0].LogicalID)
}

func TestDiffEmptyProducesNoStackUpdates(t *testing.T) {
	tmpl := &template.Template{
		Resources: map[string]*template.Resource{
			"Zone": {
				LogicalID:          "Zone",
				Type:               "AWS::Route53::RecordSet",
				OriginalProperties: map[string]any{"Name": "example.com"},
			},
		},
	}

	_, err := Diff(tmpl, tmpl, true)
	assert.ErrorIs(t, err, engineerrors.ErrNoStackUpdates)
}

func TestDiffUnfilteredIncludesUnchangedResources(t *testing.T) {
	tmpl := &template.Template{
		Resources: map[string]*template.Resource{
			"Zone": {LogicalID: "Zone", Type: "AWS::Route53::RecordSet", OriginalProperties: map[string]any{"Name": "example.com"}},
		},
	}

	changes, err := Diff(tmpl, tmpl, false)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ActionModify, changes[0].Action)
}

func TestDiffModifyMarksReplacementOnTypeChange(t *testing.T) {
	before := &template.Template{Resources: map[string]*template.Resource{
		"X": {LogicalID: "X", Type: "AWS::S3::Bucket", OriginalProperties: map[string]any{}},
	}}
	after := &template.Template{Resources: map[string]*template.Resource{
		"X": {LogicalID: "X", Type: "AWS::Route53::RecordSet", OriginalProperties: map[string]any{}},
	}}

	changes, err := Diff(before, after, true)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Replacement)
}

func TestMergePropertiesAccretesOldKeysButReplacesOriginalProperties(t *testing.T) {
	before := &template.Template{Resources: map[string]*template.Resource{
		"X": {
			LogicalID:          "X",
			Type:               "AWS::S3::Bucket",
			PhysicalResourceID: "phys-1",
			ResourceStatus:     template.StatusCreateComplete,
			Properties:         map[string]any{"Name": "old-name", "Retain": "yes"},
			OriginalProperties: map[string]any{"Name": "old-name", "Retain": "yes"},
		},
	}}
	after := &template.Template{Resources: map[string]*template.Resource{
		"X": {
			LogicalID:          "X",
			Type:               "AWS::S3::Bucket",
			Properties:         map[string]any{"Name": "new-name"},
			OriginalProperties: map[string]any{"Name": "new-name"},
		},
	}}

	changes, err := Diff(before, after, true)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	merged := changes[0].After
	assert.Equal(t, "new-name", merged.Properties["Name"])
	assert.Equal(t, "yes", merged.Properties["Retain"], "keys omitted by the new definition should be retained")
	assert.Equal(t, map[string]any{"Name": "new-name"}, merged.OriginalProperties, "OriginalProperties is wholesale-replaced, not merged")
	assert.Equal(t, "phys-1", merged.PhysicalResourceID)
	assert.Equal(t, template.StatusCreateComplete, merged.ResourceStatus)
}

func TestDiffModifiesResourceLeftInDeleteFailedEvenWithUnchangedConfig(t *testing.T) {
	tmpl := &template.Template{
		Resources: map[string]*template.Resource{
			"Zone": {
				LogicalID:          "Zone",
				Type:               "AWS::Route53::RecordSet",
				ResourceStatus:     template.StatusDeleteFailed,
				OriginalProperties: map[string]any{"Name": "example.com"},
			},
		},
	}

	changes, err := Diff(tmpl, tmpl, true)
	require.NoError(t, err, "a resource stuck in DELETE_FAILED must not be filtered out as unchanged")
	require.Len(t, changes, 1)
	assert.Equal(t, ActionModify, changes[0].Action)
}

func TestActionForMapsChangeActionToProviderVerb(t *testing.T) {
	assert.Equal(t, "create", string(ActionFor(ActionAdd)))
	assert.Equal(t, "update", string(ActionFor(ActionModify)))
	assert.Equal(t, "delete", string(ActionFor(ActionRemove)))
}
