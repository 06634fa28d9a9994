package program

import "github.com/printworks/tenant-infra/graph"

// storageNames are the logical names downstream components reference.
type storageNames struct {
	assetsBucket    string
	documentsBucket string
	invoicesQueue   string
}

// addStorage declares the tenant's buckets, the invoices-processor FIFO
// queue pair, and the IAM roles that front tenant storage access.
func (b *builder) addStorage() storageNames {
	assets := b.addBucket("Assets")
	documents := b.addBucket("Documents")

	dlq := b.add(&graph.Node{
		Kind:        graph.KindQueue,
		LogicalName: "InvoicesProcessorDeadLetterQueue",
		Config:      map[string]any{"fifo": true},
	})

	invoices := b.add(&graph.Node{
		Kind:        graph.KindQueue,
		LogicalName: "InvoicesProcessorQueue",
		DependsOn:   []string{dlq},
		Config: map[string]any{
			"fifo":                      true,
			"visibilityTimeoutSeconds":  30,
			"contentBasedDeduplication": true,
			"redrivePolicy": map[string]any{
				"deadLetterTargetArn": ref(dlq, "arn"),
				"maxReceiveCount":     3,
			},
		},
	})

	bucketsAccess := b.add(&graph.Node{
		Kind:        graph.KindRole,
		LogicalName: "BucketsAccessRole",
		DependsOn:   []string{assets, documents},
		Config: map[string]any{
			"name":                 b.template(b.res.TenantRoles.BucketsAccess),
			"assumeRolePrincipals": []string{b.res.APIFunction.RoleARN},
		},
	})
	b.add(&graph.Node{
		Kind:        graph.KindRolePolicy,
		LogicalName: "BucketsAccessRolePolicy",
		Parent:      bucketsAccess,
		Config: map[string]any{
			"statements": []map[string]any{
				{
					"actions":   []string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject"},
					"resources": []any{ref(assets, "arn"), ref(documents, "arn")},
				},
				{
					"actions":   []string{"s3:ListBucket"},
					"resources": []any{ref(assets, "arn"), ref(documents, "arn")},
				},
			},
		},
	})

	putParameters := b.add(&graph.Node{
		Kind:        graph.KindRole,
		LogicalName: "PutParametersRole",
		Config: map[string]any{
			"name":                 b.template(b.res.TenantRoles.PutParameters),
			"assumeRolePrincipals": []string{b.res.APIFunction.RoleARN},
		},
	})
	b.add(&graph.Node{
		Kind:        graph.KindRolePolicy,
		LogicalName: "PutParametersRolePolicy",
		Parent:      putParameters,
		Config: map[string]any{
			"statements": []map[string]any{
				{
					"actions": []string{"ssm:PutParameter"},
					"resources": []string{
						b.template(b.res.TenantParameters.DocumentsMimeTypes),
						b.template(b.res.TenantParameters.DocumentsSizeLimit),
						b.template(b.res.TenantParameters.TailnetPapercutServerURI),
						b.template(b.res.TenantParameters.PapercutServerAuthToken),
						b.template(b.res.TenantParameters.TailscaleOauthClient),
					},
				},
			},
		},
	})

	return storageNames{
		assetsBucket:    assets,
		documentsBucket: documents,
		invoicesQueue:   invoices,
	}
}

// addBucket declares a bucket with its public-access block, policy, and
// CORS rules as children.
func (b *builder) addBucket(prefix string) string {
	bucket := b.add(&graph.Node{
		Kind:        graph.KindBucket,
		LogicalName: prefix + "Bucket",
	})

	b.add(&graph.Node{
		Kind:        graph.KindBucketAccess,
		LogicalName: prefix + "BucketPublicAccessBlock",
		Parent:      bucket,
		Config: map[string]any{
			"blockPublicAcls":       true,
			"blockPublicPolicy":     true,
			"ignorePublicAcls":      true,
			"restrictPublicBuckets": true,
		},
	})

	b.add(&graph.Node{
		Kind:        graph.KindBucketPolicy,
		LogicalName: prefix + "BucketPolicy",
		Parent:      bucket,
		Config: map[string]any{
			"statements": []map[string]any{
				{
					"principals": []string{"cloudfront.amazonaws.com"},
					"actions":    []string{"s3:GetObject"},
					"resources":  []any{ref(bucket, "arn")},
				},
			},
		},
	})

	b.add(&graph.Node{
		Kind:        graph.KindBucketCors,
		LogicalName: prefix + "BucketCors",
		Parent:      bucket,
		Config: map[string]any{
			"allowedHeaders": []string{"*"},
			"allowedMethods": []string{"GET", "PUT", "POST", "DELETE", "HEAD"},
			"allowedOrigins": []string{"*"},
			"maxAgeSeconds":  3600,
		},
	})

	return bucket
}
