package program

import "github.com/printworks/tenant-infra/graph"

// addCertificate declares a DNS-validated certificate with its CAA record
// and validation records. The validation records are children of the
// certificate: their names and values only exist once the certificate has
// been requested, so their config refs the certificate's validation
// options. Returns the certificate's logical name; anything binding to
// the certificate ARN must depend on it, which also places it behind the
// issuance wait.
func (b *builder) addCertificate(prefix, domainName, region string, subjectAlternativeNames []string) string {
	certConfig := map[string]any{
		"domainName":       domainName,
		"validationMethod": "DNS",
		"region":           region,
	}
	if len(subjectAlternativeNames) > 0 {
		certConfig["subjectAlternativeNames"] = subjectAlternativeNames
	}
	cert := b.add(&graph.Node{
		Kind:        graph.KindCertificate,
		LogicalName: prefix + "Certificate",
		Config:      certConfig,
	})

	b.add(&graph.Node{
		Kind:        graph.KindDNSRecord,
		LogicalName: prefix + "CaaRecord",
		Parent:      cert,
		Config: map[string]any{
			"type":    "CAA",
			"name":    domainName,
			"content": `0 issue "amazon.com"`,
			"ttl":     60,
		},
	})

	b.add(&graph.Node{
		Kind:        graph.KindDNSRecord,
		LogicalName: prefix + "CertificateValidationRecords",
		Parent:      cert,
		Config: map[string]any{
			"validationOptions": ref(cert, "domainValidationOptions"),
			"ttl":               60,
		},
	})

	return cert
}
