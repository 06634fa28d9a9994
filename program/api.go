package program

import "github.com/printworks/tenant-infra/graph"

// apiNames are the logical names downstream components reference.
type apiNames struct {
	gateway string
	stage   string
}

// route is one user-facing API route. Every route gets a sibling CORS
// preflight method on the same resource.
type route struct {
	name   string
	path   string
	method string
	target string
}

// addAPI declares the tenant's REST API: the shared account-level
// gateway setup, the gateway, the resource tree with its routes and CORS
// siblings, a deployment over the route set, the stage, and the custom
// domain bound to a regional certificate.
func (b *builder) addAPI(storage storageNames, realtime realtimeNames) apiNames {
	// One-time per-account gateway logging setup, shared across every
	// tenant. The runner reads first and only creates when absent;
	// already-exists on a concurrent first create is success.
	account := b.add(&graph.Node{
		Kind:        graph.KindGatewayAccount,
		LogicalName: "GatewayAccount",
		Config:      map[string]any{"shared": true},
	})

	gateway := b.add(&graph.Node{
		Kind:        graph.KindGateway,
		LogicalName: "Gateway",
		DependsOn:   []string{account, storage.assetsBucket, storage.documentsBucket, realtime.api},
	})

	wellKnownPrefix := "/.well-known/appspecific/" + reverseDNS(b.res.AppData.DomainName.FullyQualified)
	routes := []route{
		{"Health", "/health", "GET", b.res.APIFunction.ARN},
		{"RealtimeWellKnown", wellKnownPrefix + ".realtime.json", "GET", b.res.APIFunction.ARN},
		{"BucketsWellKnown", wellKnownPrefix + ".buckets.json", "GET", b.res.APIFunction.ARN},
		{"Parameters", "/parameters/{proxy+}", "ANY", b.res.APIFunction.ARN},
		{"PapercutServer", "/papercut/server/{proxy+}", "ANY", b.res.APIFunction.ARN},
		{"PapercutSync", "/papercut/sync", "POST", b.res.PapercutSync.ARN},
		{"Invoices", "/invoices", "POST", b.res.InvoicesProcessor.ARN},
		{"CdnInvalidation", "/cdn/invalidation", "POST", b.res.APIFunction.ARN},
	}

	deploymentDeps := make([]string, 0, len(routes)*2)
	for _, rt := range routes {
		deploymentDeps = append(deploymentDeps, b.addRoute(gateway, rt)...)
	}

	deployment := b.add(&graph.Node{
		Kind:        graph.KindAPIDeployment,
		LogicalName: "Deployment",
		Parent:      gateway,
		DependsOn:   deploymentDeps,
	})

	stage := b.add(&graph.Node{
		Kind:        graph.KindAPIStage,
		LogicalName: "Stage",
		Parent:      gateway,
		DependsOn:   []string{deployment},
		Config: map[string]any{
			"name":         b.res.AppData.Stage,
			"deploymentId": ref(deployment, "id"),
			"accessLog":    map[string]any{"retentionInDays": 30},
		},
	})

	domainName := b.template(b.res.TenantDomains.API)
	cert := b.addCertificate("Api", domainName, b.res.AWS.Region, nil)

	b.add(&graph.Node{
		Kind:        graph.KindAPIDomain,
		LogicalName: "ApiDomain",
		DependsOn:   []string{cert, stage},
		Config: map[string]any{
			"domainName":     domainName,
			"certificateArn": ref(cert, "arn"),
			"mapping": map[string]any{
				"apiId": ref(gateway, "id"),
				"stage": ref(stage, "name"),
			},
		},
	})

	return apiNames{gateway: gateway, stage: stage}
}

// addRoute declares the resource, method, integration, and invoke grant
// for one route plus its CORS preflight sibling. Returns the logical
// names the deployment must depend on.
func (b *builder) addRoute(gateway string, rt route) []string {
	resource := b.add(&graph.Node{
		Kind:        graph.KindAPIResource,
		LogicalName: rt.name + "Resource",
		Parent:      gateway,
		Config:      map[string]any{"path": rt.path},
	})

	method := b.add(&graph.Node{
		Kind:        graph.KindAPIMethod,
		LogicalName: rt.name + "Method",
		Parent:      resource,
		Config: map[string]any{
			"httpMethod":        rt.method,
			"authorizationType": "AWS_IAM",
		},
	})

	integration := b.add(&graph.Node{
		Kind:        graph.KindAPIIntegration,
		LogicalName: rt.name + "Integration",
		Parent:      resource,
		DependsOn:   []string{method},
		Config: map[string]any{
			"type":                 "AWS_PROXY",
			"integrationUri":       rt.target,
			"payloadFormatVersion": "2.0",
		},
	})

	b.add(&graph.Node{
		Kind:        graph.KindFunctionGrant,
		LogicalName: rt.name + "InvokePermission",
		DependsOn:   []string{integration},
		Config: map[string]any{
			"action":    "lambda:InvokeFunction",
			"function":  rt.target,
			"principal": "apigateway.amazonaws.com",
			"sourceArn": ref(gateway, "executionArnWildcard"),
		},
	})

	// CORS preflight is a sibling of the user-facing method, not a
	// dependency of it.
	cors := b.add(&graph.Node{
		Kind:        graph.KindAPIMethod,
		LogicalName: rt.name + "CorsMethod",
		Parent:      resource,
		Config: map[string]any{
			"httpMethod":        "OPTIONS",
			"authorizationType": "NONE",
			"cors": map[string]any{
				"allowHeaders": []string{"*"},
				"allowMethods": []string{"*"},
				"allowOrigins": []string{"*"},
			},
		},
	})

	return []string{method, integration, cors}
}
