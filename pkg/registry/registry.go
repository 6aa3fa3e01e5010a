// Package registry holds the catalog of node plugins and their
// configuration schemas. Definitions are checked against it at save
// time so a run never starts with a config a plugin cannot consume.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/studio233/flowcore/pkg/models"
)

// Plugin describes one registered node capability.
type Plugin struct {
	ID          string
	Name        string
	Description string
	// Schema is a JSON schema for the node's Data.Config.
	Schema map[string]any
}

type Registry struct {
	logger  *slog.Logger
	plugins map[string]*Plugin
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:  log,
		plugins: make(map[string]*Plugin),
	}
}

// NewDefaultRegistry returns a registry preloaded with the built-in
// studio plugins.
func NewDefaultRegistry(log *slog.Logger) *Registry {
	r := NewRegistry(log)

	for _, plugin := range builtinPlugins() {
		r.Register(plugin)
	}

	return r
}

func (r *Registry) Register(plugin *Plugin) {
	r.plugins[plugin.ID] = plugin
}

func (r *Registry) Get(pluginID string) (*Plugin, bool) {
	plugin, ok := r.plugins[pluginID]

	return plugin, ok
}

// Available returns the ids of all registered plugins.
func (r *Registry) Available() []string {
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}

	return ids
}

// ValidateConfig checks a node's config against the plugin's schema.
// Nodes without a plugin id are skipped: plain display nodes carry no
// tool config.
func (r *Registry) ValidateConfig(node *models.Node) error {
	if node.Data.PluginID == "" {
		return nil
	}

	plugin, ok := r.plugins[node.Data.PluginID]
	if !ok {
		return fmt.Errorf("node '%s': plugin '%s' not registered", node.ID, node.Data.PluginID)
	}

	if plugin.Schema == nil {
		return nil
	}

	config := node.Data.Config
	if config == nil {
		config = map[string]any{}
	}

	return validateJSONSchema(config, plugin.Schema)
}

func validateJSONSchema(data any, schema map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errs []string
		for _, resultError := range result.Errors() {
			errs = append(errs, resultError.String())
		}

		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
