package program

import "github.com/printworks/tenant-infra/graph"

// realtimeNames are the logical names downstream components reference.
type realtimeNames struct {
	api string
}

// addRealtime declares the tenant's realtime event API: the API itself,
// its channel namespaces, the publisher and subscriber roles, and the
// custom domain bound to a DNS-validated certificate.
func (b *builder) addRealtime() realtimeNames {
	api := b.add(&graph.Node{
		Kind:        graph.KindRealtimeAPI,
		LogicalName: "RealtimeApi",
		Config: map[string]any{
			"authProviders":             []string{"AWS_IAM"},
			"connectionAuthModes":       []string{"AWS_IAM"},
			"defaultPublishAuthModes":   []string{"AWS_IAM"},
			"defaultSubscribeAuthModes": []string{"AWS_IAM"},
		},
	})

	b.add(&graph.Node{
		Kind:        graph.KindChannelNamespace,
		LogicalName: "EventsChannelNamespace",
		Parent:      api,
		Config:      map[string]any{"name": "events"},
	})
	b.add(&graph.Node{
		Kind:        graph.KindChannelNamespace,
		LogicalName: "ReplicacheChannelNamespace",
		Parent:      api,
		Config:      map[string]any{"name": "replicache"},
	})

	subscriber := b.add(&graph.Node{
		Kind:        graph.KindRole,
		LogicalName: "RealtimeSubscriberRole",
		DependsOn:   []string{api},
		Config: map[string]any{
			"name":                 b.template(b.res.TenantRoles.RealtimeSubscriber),
			"assumeRolePrincipals": []string{b.res.APIFunction.RoleARN},
		},
	})
	b.add(&graph.Node{
		Kind:        graph.KindRolePolicy,
		LogicalName: "RealtimeSubscriberRolePolicy",
		Parent:      subscriber,
		Config: map[string]any{
			"statements": []map[string]any{
				{
					"actions":   []string{"appsync:EventConnect"},
					"resources": []any{ref(api, "arn")},
				},
				{
					"actions":   []string{"appsync:EventSubscribe"},
					"resources": []any{ref(api, "arnWildcard")},
				},
			},
		},
	})

	publisher := b.add(&graph.Node{
		Kind:        graph.KindRole,
		LogicalName: "RealtimePublisherRole",
		DependsOn:   []string{api},
		Config: map[string]any{
			"name": b.template(b.res.TenantRoles.RealtimePublisher),
			"assumeRolePrincipals": []string{
				b.res.APIFunction.RoleARN,
				b.res.PapercutSync.RoleARN,
			},
		},
	})
	b.add(&graph.Node{
		Kind:        graph.KindRolePolicy,
		LogicalName: "RealtimePublisherRolePolicy",
		Parent:      publisher,
		Config: map[string]any{
			"statements": []map[string]any{
				{
					"actions":   []string{"appsync:EventPublish"},
					"resources": []any{ref(api, "arnWildcard")},
				},
			},
		},
	})

	domainName := b.template(b.res.TenantDomains.Realtime)
	cert := b.addCertificate("Realtime", domainName, b.res.AWS.Region, nil)

	domain := b.add(&graph.Node{
		Kind:        graph.KindRealtimeDomain,
		LogicalName: "RealtimeDomain",
		DependsOn:   []string{api, cert},
		Config: map[string]any{
			"domainName":     domainName,
			"certificateArn": ref(cert, "arn"),
			"apiId":          ref(api, "id"),
		},
	})

	b.add(&graph.Node{
		Kind:        graph.KindDNSRecord,
		LogicalName: "RealtimeAliasRecord",
		DependsOn:   []string{domain},
		Config: map[string]any{
			"type":    "CNAME",
			"name":    domainName,
			"content": ref(domain, "targetDomainName"),
			"ttl":     1,
			"proxied": true,
		},
	})

	return realtimeNames{api: api}
}
