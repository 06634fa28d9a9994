package program

import (
	"fmt"

	"github.com/printworks/tenant-infra/graph"
)

// fourteenDays is the dead-letter queue retention in seconds, the SQS
// maximum.
const fourteenDays = 1209600

// addEvents declares the tenant's event plumbing: the papercut sync
// schedule and patterned rule with their shared dead-letter queue, and
// the invoices-processor source mapping. The dead-letter queue exists
// before any rule or target that references it.
func (b *builder) addEvents(storage storageNames) {
	dlq := b.add(&graph.Node{
		Kind:        graph.KindQueue,
		LogicalName: "EventsDeadLetterQueue",
		Config: map[string]any{
			"messageRetentionSeconds": fourteenDays,
		},
	})

	bus := b.add(&graph.Node{
		Kind:        graph.KindEventBus,
		LogicalName: "EventBus",
	})

	scheduleConfig := map[string]any{
		"scheduleExpression": fmt.Sprintf("cron(%s)", b.p.SyncSchedule),
		"flexibleTimeWindow": map[string]any{
			"mode":                   "FLEXIBLE",
			"maximumWindowInMinutes": 15,
		},
		"target": map[string]any{
			"arn":                b.res.PapercutSync.ARN,
			"roleArn":            b.res.PapercutSync.RoleARN,
			"deadLetterQueueArn": ref(dlq, "arn"),
			"input":              map[string]any{"tenantId": b.p.TenantID},
		},
	}
	if b.p.Timezone != "" {
		scheduleConfig["scheduleExpressionTimezone"] = b.p.Timezone
	}
	b.add(&graph.Node{
		Kind:        graph.KindSchedule,
		LogicalName: "PapercutSyncSchedule",
		DependsOn:   []string{dlq},
		Config:      scheduleConfig,
	})

	rule := b.add(&graph.Node{
		Kind:        graph.KindEventRule,
		LogicalName: "PapercutSyncRule",
		DependsOn:   []string{bus, dlq},
		Config: map[string]any{
			"eventBus": ref(bus, "name"),
			"pattern": map[string]any{
				"detail-type": []string{"PapercutSync"},
				"source":      []string{reverseDNS(b.res.AppData.DomainName.FullyQualified)},
			},
		},
	})
	b.add(&graph.Node{
		Kind:        graph.KindEventTarget,
		LogicalName: "PapercutSyncRuleTarget",
		Parent:      rule,
		Config: map[string]any{
			"arn":                b.res.PapercutSync.ARN,
			"deadLetterQueueArn": ref(dlq, "arn"),
		},
	})
	b.add(&graph.Node{
		Kind:        graph.KindFunctionGrant,
		LogicalName: "PapercutSyncRulePermission",
		DependsOn:   []string{rule},
		Config: map[string]any{
			"action":    "lambda:InvokeFunction",
			"function":  b.res.PapercutSync.ARN,
			"principal": "events.amazonaws.com",
			"sourceArn": ref(rule, "arn"),
		},
	})

	b.add(&graph.Node{
		Kind:        graph.KindSourceMapping,
		LogicalName: "InvoicesProcessorSourceMapping",
		DependsOn:   []string{storage.invoicesQueue},
		Config: map[string]any{
			"eventSourceArn": ref(storage.invoicesQueue, "arn"),
			"functionName":   b.res.InvoicesProcessor.Name,
			"batchSize":      10,
		},
	})
}
