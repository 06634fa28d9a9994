// Package graph defines the declarative resource graph handed to the
// provisioning engine. Nodes carry provider-specific config payloads that
// the engine passes through opaquely; edges (depends_on and parent) encode
// the ordering the engine must honor.
package graph

import (
	"fmt"
	"sort"
)

// Kind identifies the provider resource type of a node.
type Kind string

// Resource kinds used by the tenant program.
const (
	KindCertificate      Kind = "dns.certificate"
	KindDNSRecord        Kind = "dns.record"
	KindAPIDomain        Kind = "api.domain"
	KindGatewayAccount   Kind = "api.account"
	KindGateway          Kind = "api.gateway"
	KindAPIResource      Kind = "api.resource"
	KindAPIMethod        Kind = "api.method"
	KindAPIIntegration   Kind = "api.integration"
	KindAPIDeployment    Kind = "api.deployment"
	KindAPIStage         Kind = "api.stage"
	KindBucket           Kind = "storage.bucket"
	KindBucketPolicy     Kind = "storage.bucket_policy"
	KindBucketCors       Kind = "storage.bucket_cors"
	KindBucketAccess     Kind = "storage.bucket_access_block"
	KindQueue            Kind = "storage.queue"
	KindRole             Kind = "iam.role"
	KindRolePolicy       Kind = "iam.role_policy"
	KindEventBus         Kind = "events.bus"
	KindEventRule        Kind = "events.rule"
	KindEventTarget      Kind = "events.target"
	KindSchedule         Kind = "events.schedule"
	KindSourceMapping    Kind = "events.source_mapping"
	KindFunctionGrant    Kind = "lambda.permission"
	KindRealtimeAPI      Kind = "realtime.api"
	KindChannelNamespace Kind = "realtime.channel_namespace"
	KindRealtimeDomain   Kind = "realtime.domain"
	KindDistribution     Kind = "cdn.distribution"
)

// Node is a single declarative resource definition. Config is opaque to
// the orchestrator; optional fields are omitted from the map entirely
// rather than set to empty values, so the engine sees no spurious diffs.
type Node struct {
	Kind        Kind
	LogicalName string
	Config      map[string]any
	DependsOn   []string
	Parent      string
}

// CycleError reports a dependency cycle discovered during validation.
type CycleError struct {
	// Nodes are the logical names participating in the cycle, in no
	// particular order.
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("resource graph contains a dependency cycle through %v", e.Nodes)
}

// Graph is an append-only collection of nodes with dependency edges.
// Insertion order is preserved so topological sorts are deterministic.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Add inserts a node. Logical names must be unique within the graph.
func (g *Graph) Add(n *Node) error {
	if n.LogicalName == "" {
		return fmt.Errorf("node of kind %q has no logical name", n.Kind)
	}
	if _, exists := g.nodes[n.LogicalName]; exists {
		return fmt.Errorf("duplicate logical name %q", n.LogicalName)
	}
	g.nodes[n.LogicalName] = n
	g.order = append(g.order, n.LogicalName)
	return nil
}

// Node returns the node with the given logical name, or nil.
func (g *Graph) Node(logicalName string) *Node {
	return g.nodes[logicalName]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// edgesOf returns every name node n must be created after: explicit
// depends_on edges plus the owning parent.
func (g *Graph) edgesOf(n *Node) []string {
	edges := make([]string, 0, len(n.DependsOn)+1)
	edges = append(edges, n.DependsOn...)
	if n.Parent != "" {
		edges = append(edges, n.Parent)
	}
	return edges
}

// Validate checks that every edge references a known node and that the
// graph is acyclic. A cycle is reported as a *CycleError.
func (g *Graph) Validate() error {
	for _, name := range g.order {
		for _, dep := range g.edgesOf(g.nodes[name]) {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("node %q references unknown node %q", name, dep)
			}
		}
	}
	if _, err := g.TopoSort(); err != nil {
		return err
	}
	return nil
}

// TopoSort returns the nodes in creation order: every node appears after
// all of its dependencies and its parent. The sort is stable with respect
// to insertion order. Destroy traversals iterate the result in reverse,
// which tears children down before their parents.
func (g *Graph) TopoSort() ([]*Node, error) {
	indegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))

	for _, name := range g.order {
		indegree[name] = 0
	}
	for _, name := range g.order {
		for _, dep := range g.edgesOf(g.nodes[name]) {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("node %q references unknown node %q", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// Kahn's algorithm, seeded in insertion order for determinism.
	var ready []string
	for _, name := range g.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	sorted := make([]*Node, 0, len(g.order))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		sorted = append(sorted, g.nodes[name])

		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(sorted) != len(g.order) {
		var remaining []string
		for name, deg := range indegree {
			if deg > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Nodes: remaining}
	}

	return sorted, nil
}
