// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const jsonTemplate = `{
  "AWSTemplateFormatVersion": "2010-09-09",
  "Parameters": {
    "Env": {"Type": "String", "Default": "dev"}
  },
  "Resources": {
    "Zone": {
      "Type": "AWS::Route53::RecordSet",
      "Properties": {"Name": "example.com", "Type": "A"}
    },
    "Record": {
      "Type": "AWS::Route53::RecordSet",
      "DependsOn": "Zone",
      "Properties": {"Name": {"Ref": "Zone"}, "Type": "A"}
    }
  },
  "Outputs": {
    "RecordName": {"Value": {"Ref": "Record"}, "Export": {"Name": "record-name"}}
  }
}`

const yamlTemplate = `
AWSTemplateFormatVersion: "2010-09-09"
Resources:
  Bucket:
    Type: AWS::S3::Bucket
    DependsOn:
      - Zone
    Properties:
      Name: my-bucket
  Zone:
    Type: AWS::Route53::RecordSet
    Properties:
      Name: example.com
`

func TestParseJSONTemplate(t *testing.T) {
	tmpl, err := Parse([]byte(jsonTemplate))
	require.NoError(t, err)
	require.Len(t, tmpl.Resources, 2)

	record := tmpl.Resources["Record"]
	require.NotNil(t, record)
	require.Equal(t, "Record", record.LogicalID)
	require.Equal(t, StringList{"Zone"}, record.DependsOn)
	require.Equal(t, map[string]any{"Ref": "Zone"}, record.OriginalProperties["Name"])

	require.Equal(t, "dev", tmpl.Parameters["Env"].Default)
	require.NotNil(t, tmpl.Outputs["RecordName"].Export)
	require.Equal(t, "record-name", tmpl.Outputs["RecordName"].Export.Name)
}

func TestParseYAMLTemplate(t *testing.T) {
	tmpl, err := Parse([]byte(yamlTemplate))
	require.NoError(t, err)
	require.Len(t, tmpl.Resources, 2)

	bucket := tmpl.Resources["Bucket"]
	require.NotNil(t, bucket)
	require.Equal(t, StringList{"Zone"}, bucket.DependsOn)
	require.Equal(t, "my-bucket", bucket.Properties["Name"])
}

func TestParseDependsOnSingleStringOrList(t *testing.T) {
	single, err := FromGeneric(map[string]any{
		"Resources": map[string]any{
			"A": map[string]any{"Type": "X", "DependsOn": "B"},
			"B": map[string]any{"Type": "X", "DependsOn": []any{"C", "D"}},
			"C": map[string]any{"Type": "X"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StringList{"B"}, single.Resources["A"].DependsOn)
	require.Equal(t, StringList{"C", "D"}, single.Resources["B"].DependsOn)
	require.Nil(t, single.Resources["C"].DependsOn)
}

func TestParseDependsOnRejectsNonStringEntries(t *testing.T) {
	_, err := FromGeneric(map[string]any{
		"Resources": map[string]any{
			"A": map[string]any{"Type": "X", "DependsOn": []any{1, 2}},
		},
	})
	require.Error(t, err)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"Resources": `))
	require.Error(t, err)
}

func TestOriginalPropertiesSurviveLaterPropertyMutation(t *testing.T) {
	tmpl, err := Parse([]byte(jsonTemplate))
	require.NoError(t, err)

	record := tmpl.Resources["Record"]
	record.Properties["Name"] = "example.com" // simulate intrinsic resolution in place
	require.Equal(t, map[string]any{"Ref": "Zone"}, record.OriginalProperties["Name"])
}
