// Package testutil provides test data builders for workflow graphs.
package testutil

import (
	"github.com/google/uuid"

	"github.com/studio233/flowcore/pkg/models"
)

// CreateTestNode creates a node with default values that can be
// overridden.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:       uuid.New().String(),
		Type:     models.NodeTypeDefault,
		Position: models.Position{X: 100, Y: 200},
		Data: models.NodeData{
			Label:  "Test Node",
			Status: models.NodeStatusIdle,
		},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node id.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// WithEntryNode configures the node as the graph's entry point.
func WithEntryNode() func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeInput
		n.Data.Type = "trigger"
	}
}

// WithLabel sets the display label.
func WithLabel(label string) func(*models.Node) {
	return func(n *models.Node) {
		n.Data.Label = label
	}
}

// WithPlugin binds a plugin and its config to the node.
func WithPlugin(pluginID string, config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Data.PluginID = pluginID
		n.Data.Config = config
	}
}

// Connect returns an edge from source to target.
func Connect(source, target string) *models.Edge {
	return &models.Edge{
		ID:     source + "-" + target,
		Source: source,
		Target: target,
	}
}

// CreateTestDefinition assembles a definition around the given graph.
func CreateTestDefinition(name string, nodes []*models.Node, edges []*models.Edge) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name:      name,
		ProjectID: "test-project",
		UserID:    "test-user",
		Nodes:     nodes,
		Edges:     edges,
	}
}
