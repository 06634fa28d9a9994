package engine

import (
	"context"
	"fmt"

	"github.com/printworks/tenant-infra/graph"
)

// Stack is a durable deployment target within a workspace. Its identity
// and per-resource state live in the workspace bucket, so repeated runs
// against the same stack converge instead of duplicating resources.
type Stack struct {
	ws      *Workspace
	project string
	name    string
	config  map[string]ConfigValue
}

// Project returns the project the stack belongs to.
func (s *Stack) Project() string { return s.project }

// Name returns the stack name.
func (s *Stack) Name() string { return s.name }

// SetConfig records a stack configuration entry. Secret entries are
// passed to the runner but never emitted through output callbacks.
func (s *Stack) SetConfig(key, value string, secret bool) {
	s.config[key] = ConfigValue{Value: value, Secret: secret}
}

// physicalNameLimit returns the provider name-length limit for kinds the
// stack mints names for, or 0 for kinds the provider names itself.
func physicalNameLimit(kind graph.Kind) int {
	switch kind {
	case graph.KindBucket:
		return 63
	case graph.KindQueue:
		return 80
	case graph.KindRole:
		return 64
	case graph.KindEventBus, graph.KindEventRule, graph.KindSchedule:
		return 64
	default:
		return 0
	}
}

// physicalSuffix returns the required name suffix for a node, such as
// ".fifo" for FIFO queues.
func physicalSuffix(n *graph.Node) string {
	if n.Kind == graph.KindQueue {
		if fifo, ok := n.Config["fifo"].(bool); ok && fifo {
			return ".fifo"
		}
	}
	return ""
}

// resolvePhysicalName returns the physical name for a node: the name
// recorded at first creation if one exists, an explicit config name, or
// a freshly minted one. Minting happens at most once per resource.
func (s *Stack) resolvePhysicalName(n *graph.Node, state *resourceState) string {
	if state != nil && state.PhysicalName != "" {
		return state.PhysicalName
	}
	if name, ok := n.Config["name"].(string); ok && name != "" {
		return name
	}
	limit := physicalNameLimit(n.Kind)
	if limit == 0 {
		return ""
	}
	return s.ws.namer.Physical(limit, n.LogicalName, physicalSuffix(n))
}

func (s *Stack) op(n *graph.Node, physicalName string) ResourceOp {
	return ResourceOp{
		Project:      s.project,
		Stack:        s.name,
		Node:         n,
		PhysicalName: physicalName,
		StackConfig:  s.config,
	}
}

func emit(onOutput func(string), format string, args ...any) {
	if onOutput != nil {
		onOutput(fmt.Sprintf(format, args...))
	}
}

// Up reconciles the stack to match the graph. Nodes are applied in
// dependency order; a certificate node additionally blocks until the
// certificate is issued before its state is recorded, so an unissued
// certificate is never registered as done. The returned summary counts
// resources per change kind, including partial progress on failure.
func (s *Stack) Up(ctx context.Context, g *graph.Graph, opts UpOptions) (*UpResult, error) {
	ordered, err := g.TopoSort()
	if err != nil {
		return nil, fmt.Errorf("order resource graph: %w", err)
	}

	result := &UpResult{Summary: Summary{ResourceChanges: map[string]int{}}}
	for _, node := range ordered {
		state, err := s.ws.readResourceState(ctx, s.project, s.name, node.LogicalName)
		if err != nil {
			return result, err
		}

		op := s.op(node, s.resolvePhysicalName(node, state))
		op.Credentials = opts.Credentials

		applied, err := s.ws.runner.Apply(ctx, op)
		if err != nil {
			return result, fmt.Errorf("apply %s: %w", node.LogicalName, err)
		}

		if node.Kind == graph.KindCertificate && s.ws.waiter != nil {
			arn, _ := applied.Outputs["arn"].(string)
			if arn == "" {
				return result, fmt.Errorf("apply %s: certificate has no arn output", node.LogicalName)
			}
			if err := s.ws.waiter.WaitIssued(ctx, arn); err != nil {
				return result, fmt.Errorf("wait for certificate %s: %w", node.LogicalName, err)
			}
		}

		if err := s.ws.writeResourceState(ctx, s.project, s.name, node.LogicalName, &resourceState{
			Kind:         string(node.Kind),
			PhysicalName: op.PhysicalName,
			Outputs:      applied.Outputs,
		}); err != nil {
			return result, err
		}

		result.Summary.ResourceChanges[string(applied.Change)]++
		emit(opts.OnOutput, "%-8s %s (%s)", applied.Change, node.LogicalName, node.Kind)
	}

	return result, nil
}

// Destroy tears the stack's resources down in reverse dependency order
// and removes their state records. The stack identity record is left in
// place; RemoveStack deletes it.
func (s *Stack) Destroy(ctx context.Context, g *graph.Graph, opts DestroyOptions) (*DestroyResult, error) {
	ordered, err := g.TopoSort()
	if err != nil {
		return nil, fmt.Errorf("order resource graph: %w", err)
	}

	result := &DestroyResult{Summary: Summary{ResourceChanges: map[string]int{}}}
	for i := len(ordered) - 1; i >= 0; i-- {
		node := ordered[i]
		state, err := s.ws.readResourceState(ctx, s.project, s.name, node.LogicalName)
		if err != nil {
			return result, err
		}
		if state == nil {
			// Never created, or already torn down.
			continue
		}

		op := s.op(node, state.PhysicalName)
		op.Credentials = opts.Credentials

		if err := s.ws.runner.Destroy(ctx, op); err != nil {
			return result, fmt.Errorf("destroy %s: %w", node.LogicalName, err)
		}
		if err := s.ws.deleteResourceState(ctx, s.project, s.name, node.LogicalName); err != nil {
			return result, err
		}

		result.Summary.ResourceChanges[string(ChangeDelete)]++
		emit(opts.OnOutput, "%-8s %s (%s)", ChangeDelete, node.LogicalName, node.Kind)
	}

	return result, nil
}
