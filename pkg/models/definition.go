// Package models defines the core domain models for the workflow execution core.
package models

import "time"

// NodeStatus is the display-only execution status painted onto an editor
// node. Authoritative state lives on WorkflowStep.
type NodeStatus string

const (
	NodeStatusIdle    NodeStatus = "idle"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)

// Node type tags as used by the canvas. An "input" node is the entry
// point of the graph and cannot be deleted.
const (
	NodeTypeInput   = "input"
	NodeTypeDefault = "default"
	NodeTypeOutput  = "output"
)

// Position is a display-only 2D coordinate, irrelevant to execution.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData is the payload carried by a node: label, plugin binding and
// the plugin-specific config object.
type NodeData struct {
	Label       string         `json:"label,omitempty"`
	Description string         `json:"description,omitempty"`
	Status      NodeStatus     `json:"status,omitempty"`
	Type        string         `json:"type,omitempty"`
	PluginID    string         `json:"pluginId,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// Node is a single processing node in a workflow definition.
type Node struct {
	ID       string   `json:"id"       validate:"required"`
	Type     string   `json:"type,omitempty"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// IsEntry reports whether the node is the trigger/entry node of the
// graph and therefore protected from deletion.
func (n *Node) IsEntry() bool {
	return n.Type == NodeTypeInput || n.Data.Type == "trigger"
}

// Label returns the display label, falling back to the node id.
func (n *Node) Label() string {
	if n.Data.Label != "" {
		return n.Data.Label
	}

	return n.ID
}

// ToolName returns the capability a step for this node invokes: the
// bound plugin id when present, the node type otherwise.
func (n *Node) ToolName() string {
	if n.Data.PluginID != "" {
		return n.Data.PluginID
	}

	return n.Type
}

// Edge is a directed dependency: the target depends on the source
// completing first. Display flags are carried but ignored by execution.
type Edge struct {
	ID       string `json:"id,omitempty"`
	Source   string `json:"source" validate:"required"`
	Target   string `json:"target" validate:"required"`
	Animated bool   `json:"animated,omitempty"`
	Marker   string `json:"marker,omitempty"`
}

// WorkflowDefinition is a user-authored workflow graph. Node order is
// display/insertion order, not execution order.
type WorkflowDefinition struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"  validate:"required"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"        validate:"required,min=1"`
	Description string    `json:"description,omitempty"`
	Nodes       []*Node   `json:"nodes"`
	Edges       []*Edge   `json:"edges"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NodeByID returns the node with the given id, or nil.
func (d *WorkflowDefinition) NodeByID(id string) *Node {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// DefaultTemplate returns the trigger -> step -> output graph seeded
// into newly created workflow definitions.
func DefaultTemplate() ([]*Node, []*Edge) {
	nodes := []*Node{
		{
			ID:       "trigger-1",
			Type:     NodeTypeInput,
			Position: Position{X: 0, Y: 0},
			Data: NodeData{
				Label:       "Trigger",
				Description: "Start a batch run",
				Status:      NodeStatusIdle,
			},
		},
		{
			ID:       "action-1",
			Type:     NodeTypeDefault,
			Position: Position{X: 240, Y: 120},
			Data: NodeData{
				Label:       "Batch step",
				Description: "Connect existing studio processing",
				Status:      NodeStatusIdle,
			},
		},
		{
			ID:       "output-1",
			Type:     NodeTypeOutput,
			Position: Position{X: 520, Y: 240},
			Data: NodeData{
				Label:       "Result",
				Description: "Review outputs",
				Status:      NodeStatusIdle,
			},
		},
	}

	edges := []*Edge{
		{ID: "e1-2", Source: "trigger-1", Target: "action-1", Animated: true},
		{ID: "e2-3", Source: "action-1", Target: "output-1"},
	}

	return nodes, edges
}
