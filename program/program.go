// Package program builds the declarative resource graph for one tenant.
// Building is pure: no provider calls, no random names. Physical names
// are minted later by the stack layer, at actual creation time.
package program

import (
	"fmt"
	"strings"

	"github.com/printworks/tenant-infra/config"
	"github.com/printworks/tenant-infra/graph"
	"github.com/printworks/tenant-infra/naming"
)

// Params are the per-request inputs to the builder.
type Params struct {
	TenantID string

	// SyncSchedule is the cron expression driving the scheduled papercut
	// sync rule.
	SyncSchedule string

	// Timezone qualifies the cron expression.
	Timezone string
}

// Build assembles the full tenant resource graph from the request
// parameters and the resolved resource descriptors. The result is
// validated: every edge resolves and the graph is acyclic.
func Build(p Params, res *config.Resources) (*graph.Graph, error) {
	if p.TenantID == "" {
		return nil, fmt.Errorf("build tenant program: tenant id is empty")
	}

	b := &builder{g: graph.New(), res: res, p: p}

	storage := b.addStorage()
	realtime := b.addRealtime()
	api := b.addAPI(storage, realtime)
	b.addRouter(api, storage)
	b.addEvents(storage)

	if b.err != nil {
		return nil, fmt.Errorf("build tenant program: %w", b.err)
	}
	if err := b.g.Validate(); err != nil {
		return nil, fmt.Errorf("build tenant program: %w", err)
	}
	return b.g, nil
}

type builder struct {
	g   *graph.Graph
	res *config.Resources
	p   Params
	err error
}

// add inserts a node, capturing the first error so component methods can
// chain without per-call error plumbing.
func (b *builder) add(n *graph.Node) string {
	if b.err == nil {
		b.err = b.g.Add(n)
	}
	return n.LogicalName
}

// template expands a tenant name template.
func (b *builder) template(t config.NameTemplate) string {
	return naming.Template(t.NameTemplate, b.p.TenantID)
}

// ref is a config value the engine resolves from another resource's
// outputs at apply time. The referencing node must also declare a
// dependency edge on the target.
func ref(logicalName, output string) map[string]any {
	return map[string]any{"$ref": logicalName, "output": output}
}

// reverseDNS turns a domain into its dot-reversed form, used as the
// event source namespace (e.g. "app.printdesk" for "printdesk.app").
func reverseDNS(domain string) string {
	parts := strings.Split(domain, ".")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}
