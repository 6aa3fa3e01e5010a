// Package editor maintains the client-side graph state for one open
// editor session: the live nodes/edges, selection, a bounded undo/redo
// history, and reconciliation of server-reported step state onto the
// graph.
package editor

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/studio233/flowcore/pkg/models"
)

// HistoryLimit caps the undo and redo stacks; the oldest snapshots are
// dropped once the cap is exceeded.
const HistoryLimit = 30

// AutosaveDebounce is the quiet period after the last edit before the
// graph is pushed to the definition store.
const AutosaveDebounce = 400 * time.Millisecond

// Saver persists the current graph. Wired to the definition update
// operation in production.
type Saver interface {
	SaveGraph(ctx context.Context, nodes []*models.Node, edges []*models.Edge) error
}

// Snapshot is one entry in the undo/redo history.
type Snapshot struct {
	Nodes []*models.Node
	Edges []*models.Edge
}

// State is the per-session graph container. One instance per open
// editor; methods are safe to call from the autosave timer goroutine.
type State struct {
	mu sync.Mutex

	nodes []*models.Node
	edges []*models.Edge

	selectedNodeID string
	selectedEdgeID string

	past   []Snapshot
	future []Snapshot

	dirty bool
	seq   uint64

	saver    Saver
	debounce time.Duration
	timer    *time.Timer
	logger   *slog.Logger
}

// NewState creates a session seeded with the default
// trigger -> step -> output template.
func NewState(saver Saver, logger *slog.Logger) *State {
	nodes, edges := models.DefaultTemplate()

	return &State{
		nodes:    nodes,
		edges:    edges,
		saver:    saver,
		debounce: AutosaveDebounce,
		logger:   logger,
	}
}

// WithDebounce overrides the autosave debounce; used by tests.
func (s *State) WithDebounce(d time.Duration) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.debounce = d

	return s
}

// Nodes returns a copy of the current node array.
func (s *State) Nodes() []*models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneNodes(s.nodes)
}

// Edges returns a copy of the current edge set.
func (s *State) Edges() []*models.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneEdges(s.edges)
}

// Dirty reports whether there are unsaved changes.
func (s *State) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dirty
}

// SelectedNodeID returns the currently selected node id, if any.
func (s *State) SelectedNodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectedNodeID
}

// Load replaces the graph with a saved definition. Loading is not an
// edit: history is reset, nothing is selected and the state is clean.
func (s *State) Load(nodes []*models.Node, edges []*models.Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = cloneNodes(nodes)
	s.edges = cloneEdges(edges)
	s.past = nil
	s.future = nil
	s.selectedNodeID = ""
	s.selectedEdgeID = ""
	s.dirty = false
}

// SelectNode marks the node as selected. Selection is not part of the
// undo history.
func (s *State) SelectNode(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selectedNodeID = id
}

// SelectEdge marks the edge as selected.
func (s *State) SelectEdge(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selectedEdgeID = id
}

// AddNode appends a node and selects it.
func (s *State) AddNode(node *models.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.beginMutation()
	s.nodes = append(s.nodes, cloneNode(node))
	s.selectedNodeID = node.ID
	s.commitMutation()
}

// MoveNode updates a node's display position.
func (s *State) MoveNode(id string, position models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.nodeByID(id)
	if node == nil {
		return
	}

	s.beginMutation()
	s.nodeByID(id).Position = position
	s.commitMutation()
}

// NodeDataUpdate is a partial update of a node's data payload. Nil
// fields are left untouched.
type NodeDataUpdate struct {
	Label       *string
	Description *string
	PluginID    *string
	Config      map[string]any
}

// UpdateNodeData merges the update into the node's data.
func (s *State) UpdateNodeData(id string, update NodeDataUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nodeByID(id) == nil {
		return
	}

	s.beginMutation()

	node := s.nodeByID(id)
	if update.Label != nil {
		node.Data.Label = *update.Label
	}

	if update.Description != nil {
		node.Data.Description = *update.Description
	}

	if update.PluginID != nil {
		node.Data.PluginID = *update.PluginID
	}

	if update.Config != nil {
		node.Data.Config = update.Config
	}

	s.commitMutation()
}

// Connect adds an edge between two nodes.
func (s *State) Connect(source, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.beginMutation()
	s.edges = append(s.edges, &models.Edge{
		ID:     source + "-" + target + "-" + strconv.Itoa(len(s.edges)),
		Source: source,
		Target: target,
	})
	s.commitMutation()
}

// DeleteSelected removes the selected node and every edge touching it.
// The entry node is protected: deleting it is a silent no-op, so the
// graph always keeps its single entry point.
func (s *State) DeleteSelected() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selectedNodeID == "" {
		return
	}

	node := s.nodeByID(s.selectedNodeID)
	if node == nil {
		return
	}

	if node.IsEntry() {
		return
	}

	s.beginMutation()

	id := s.selectedNodeID
	kept := s.nodes[:0]

	for _, n := range s.nodes {
		if n.ID != id {
			kept = append(kept, n)
		}
	}

	s.nodes = kept
	keptEdges := s.edges[:0]

	for _, e := range s.edges {
		if e.Source != id && e.Target != id {
			keptEdges = append(keptEdges, e)
		}
	}

	s.edges = keptEdges
	s.selectedNodeID = ""
	s.commitMutation()
}

// DeleteSelectedEdge removes the selected edge.
func (s *State) DeleteSelectedEdge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selectedEdgeID == "" {
		return
	}

	s.beginMutation()

	kept := s.edges[:0]

	for _, e := range s.edges {
		if e.ID != s.selectedEdgeID {
			kept = append(kept, e)
		}
	}

	s.edges = kept
	s.selectedEdgeID = ""
	s.commitMutation()
}

// Clear resets the graph to the default template.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.beginMutation()
	s.nodes, s.edges = models.DefaultTemplate()
	s.selectedNodeID = ""
	s.selectedEdgeID = ""
	s.commitMutation()
}

// Undo restores the most recent history snapshot. Selection is always
// cleared: the selected ids may not exist in the restored graph.
func (s *State) Undo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.past) == 0 {
		return
	}

	snapshot := s.past[len(s.past)-1]
	s.past = s.past[:len(s.past)-1]

	current := Snapshot{Nodes: s.nodes, Edges: s.edges}
	s.future = append([]Snapshot{current}, s.future...)

	if len(s.future) > HistoryLimit {
		s.future = s.future[:HistoryLimit]
	}

	s.nodes = snapshot.Nodes
	s.edges = snapshot.Edges
	s.selectedNodeID = ""
	s.selectedEdgeID = ""
	s.markDirty()
}

// Redo is the mirror of Undo.
func (s *State) Redo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.future) == 0 {
		return
	}

	snapshot := s.future[0]
	s.future = s.future[1:]

	current := Snapshot{Nodes: s.nodes, Edges: s.edges}
	s.past = append(s.past, current)

	if len(s.past) > HistoryLimit {
		s.past = s.past[len(s.past)-HistoryLimit:]
	}

	s.nodes = snapshot.Nodes
	s.edges = snapshot.Edges
	s.selectedNodeID = ""
	s.selectedEdgeID = ""
	s.markDirty()
}

// ApplyRunStatus paints server-reported step state onto the graph by
// order/index correspondence. Display-only: no history entry, no dirty
// flag, and nodes whose status is unchanged are left alone.
func (s *State) ApplyRunStatus(steps []*models.WorkflowStep) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, step := range steps {
		if step.Order < 0 || step.Order >= len(s.nodes) {
			continue
		}

		node := s.nodes[step.Order]

		next := DisplayStatus(string(step.State))
		if node.Data.Status != next {
			node.Data.Status = next
		}
	}
}

// ClearRunStatus forces every node back to idle; used when no run is
// selected.
func (s *State) ClearRunStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, node := range s.nodes {
		if node.Data.Status != models.NodeStatusIdle {
			node.Data.Status = models.NodeStatusIdle
		}
	}
}

// DisplayStatus maps a reported step state onto the display status
// painted on a node.
func DisplayStatus(state string) models.NodeStatus {
	switch strings.ToLower(state) {
	case "running":
		return models.NodeStatusRunning
	case "completed", "success":
		return models.NodeStatusSuccess
	case "failed", "error":
		return models.NodeStatusError
	default:
		// pending, pending_step, canceled and anything unknown.
		return models.NodeStatusIdle
	}
}

// Flush saves the current graph immediately. On success the state is
// clean unless further edits arrived while saving.
func (s *State) Flush(ctx context.Context) error {
	s.mu.Lock()

	if s.saver == nil {
		s.mu.Unlock()

		return nil
	}

	nodes := cloneNodes(s.nodes)
	edges := cloneEdges(s.edges)
	seq := s.seq
	s.mu.Unlock()

	err := s.saver.SaveGraph(ctx, nodes, edges)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq == seq {
		s.dirty = false
	}

	return nil
}

// Close cancels any pending autosave timer.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// beginMutation pushes the pre-mutation snapshot and clears the redo
// stack. Caller holds the lock.
func (s *State) beginMutation() {
	s.past = append(s.past, Snapshot{Nodes: cloneNodes(s.nodes), Edges: cloneEdges(s.edges)})
	if len(s.past) > HistoryLimit {
		s.past = s.past[len(s.past)-HistoryLimit:]
	}

	s.future = nil
}

// commitMutation marks the state dirty and schedules the debounced
// autosave. Caller holds the lock.
func (s *State) commitMutation() {
	s.markDirty()
}

func (s *State) markDirty() {
	s.dirty = true
	s.seq++

	if s.saver == nil {
		return
	}

	if s.timer != nil {
		s.timer.Reset(s.debounce)

		return
	}

	s.timer = time.AfterFunc(s.debounce, s.autosave)
}

// autosave runs on the debounce timer. A failed save is logged and the
// state stays dirty; the next edit's debounce cycle (or an explicit
// Flush) retries. Editing is never interrupted by a save failure.
func (s *State) autosave() {
	err := s.Flush(context.Background())
	if err != nil {
		s.logger.Error("autosave failed, keeping state dirty", "error", err)
	}
}

func (s *State) nodeByID(id string) *models.Node {
	for _, node := range s.nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

func cloneNode(node *models.Node) *models.Node {
	copied := *node

	if node.Data.Config != nil {
		config := make(map[string]any, len(node.Data.Config))
		for k, v := range node.Data.Config {
			config[k] = v
		}

		copied.Data.Config = config
	}

	return &copied
}

func cloneNodes(nodes []*models.Node) []*models.Node {
	copied := make([]*models.Node, 0, len(nodes))
	for _, node := range nodes {
		copied = append(copied, cloneNode(node))
	}

	return copied
}

func cloneEdges(edges []*models.Edge) []*models.Edge {
	copied := make([]*models.Edge, 0, len(edges))

	for _, edge := range edges {
		e := *edge
		copied = append(copied, &e)
	}

	return copied
}
