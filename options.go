// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package deployengine

// config accumulates the functional options passed to New. It is never
// exposed directly; callers only see the Option constructors below.
type config struct {
	region         string
	partition      string
	accountID      string
	urlSuffix      string
	apiGatewayPort string

	providers       []Provider
	serviceClients  ServiceClientResolver
	dynamicResolver DynamicReferenceResolver
}

// Option configures an Engine built by New.
type Option func(*config)

// WithRegion sets the AWS::Region pseudo-parameter value resources and the
// intrinsic evaluator see.
func WithRegion(region string) Option {
	return func(c *config) { c.region = region }
}

// WithPartition overrides the AWS::Partition pseudo-parameter value
// (default "aws").
func WithPartition(partition string) Option {
	return func(c *config) { c.partition = partition }
}

// WithAccountID sets the AWS::AccountId pseudo-parameter value, and the
// account id embedded in ARN-shaped call parameters the placeholder account
// id is rewritten to before dispatch.
func WithAccountID(accountID string) Option {
	return func(c *config) { c.accountID = accountID }
}

// WithURLSuffix overrides the AWS::URLSuffix pseudo-parameter value
// (default "amazonaws.com").
func WithURLSuffix(suffix string) Option {
	return func(c *config) { c.urlSuffix = suffix }
}

// WithAPIGatewayPort sets the local port generated API Gateway invoke URLs
// are rewritten to point at.
func WithAPIGatewayPort(port string) Option {
	return func(c *config) { c.apiGatewayPort = port }
}

// WithProviders registers one or more resource providers with the Engine's
// registry.
func WithProviders(providers ...Provider) Option {
	return func(c *config) { c.providers = append(c.providers, providers...) }
}

// WithServiceClients supplies the resolver the action invoker uses to reach
// backing service clients for KindServiceMethod descriptors.
func WithServiceClients(resolve ServiceClientResolver) Option {
	return func(c *config) { c.serviceClients = resolve }
}

// WithDynamicReferenceResolver supplies the backend that resolves
// {{resolve:service:key}} dynamic references and AWS::SSM::Parameter::Value
// parameters.
func WithDynamicReferenceResolver(resolver DynamicReferenceResolver) Option {
	return func(c *config) { c.dynamicResolver = resolver }
}
