package program

import (
	"fmt"

	"github.com/printworks/tenant-infra/graph"
)

// addRouter declares the tenant's CDN distribution fronting the API and
// the storage buckets, plus the alias records for each served domain.
// The viewer certificate must live in us-east-1 regardless of the
// deployment region.
func (b *builder) addRouter(api apiNames, storage storageNames) {
	cdnDomain := b.template(b.res.TenantDomains.CDN)
	apiDomain := b.template(b.res.TenantDomains.API)
	storageDomain := b.template(b.res.TenantDomains.Storage)

	cert := b.addCertificate("Cdn", cdnDomain, "us-east-1", []string{apiDomain, storageDomain})

	distribution := b.add(&graph.Node{
		Kind:        graph.KindDistribution,
		LogicalName: "Distribution",
		DependsOn:   []string{cert, api.stage, storage.assetsBucket, storage.documentsBucket},
		Config: map[string]any{
			"comment": fmt.Sprintf("%s router", b.p.TenantID),
			"aliases": []string{cdnDomain, apiDomain, storageDomain},
			"origins": []map[string]any{
				{
					"originId": "api",
					"domainName": map[string]any{
						"format": fmt.Sprintf("{id}.execute-api.%s.amazonaws.com", b.res.AWS.Region),
						"id":     ref(api.gateway, "id"),
					},
					"originPath":     "/" + b.res.AppData.Stage,
					"protocolPolicy": "https-only",
				},
				{
					"originId":   "assets",
					"domainName": ref(storage.assetsBucket, "regionalDomainName"),
				},
				{
					"originId":   "documents",
					"domainName": ref(storage.documentsBucket, "regionalDomainName"),
				},
			},
			"defaultCacheBehavior": map[string]any{
				"targetOriginId":       "api",
				"viewerProtocolPolicy": "redirect-to-https",
				"allowedMethods":       []string{"DELETE", "GET", "HEAD", "OPTIONS", "PATCH", "POST", "PUT"},
				"cachedMethods":        []string{"GET", "HEAD"},
				"compress":             true,
			},
			"viewerCertificate": map[string]any{
				"acmCertificateArn":      ref(cert, "arn"),
				"sslSupportMethod":       "sni-only",
				"minimumProtocolVersion": "TLSv1.2_2021",
			},
			"priceClass":        "PriceClass_100",
			"waitForDeployment": false,
		},
	})

	for _, alias := range []struct{ name, domain string }{
		{"CdnAliasRecord", cdnDomain},
		{"ApiAliasRecord", apiDomain},
		{"StorageAliasRecord", storageDomain},
	} {
		b.add(&graph.Node{
			Kind:        graph.KindDNSRecord,
			LogicalName: alias.name,
			DependsOn:   []string{distribution},
			Config: map[string]any{
				"type":    "CNAME",
				"name":    alias.domain,
				"content": ref(distribution, "domainName"),
				"ttl":     1,
				"proxied": true,
			},
		})
	}
}
