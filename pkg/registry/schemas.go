package registry

// builtinPlugins returns the studio's stock node capabilities.
func builtinPlugins() []*Plugin {
	return []*Plugin{
		{
			ID:          "text-to-image",
			Name:        "Text to Image",
			Description: "Generates an image from a text prompt",
			Schema: map[string]any{
				"type":     "object",
				"required": []string{"prompt"},
				"properties": map[string]any{
					"prompt": map[string]any{
						"type":      "string",
						"minLength": 1,
					},
					"aspect_ratio": map[string]any{
						"type": "string",
						"enum": []string{"1:1", "16:9", "9:16", "4:3", "3:4"},
					},
					"seed": map[string]any{
						"type": "integer",
					},
				},
			},
		},
		{
			ID:          "background-removal",
			Name:        "Background Removal",
			Description: "Removes the background from an input image",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"output_format": map[string]any{
						"type": "string",
						"enum": []string{"png", "webp"},
					},
				},
			},
		},
		{
			ID:          "vision-analysis",
			Name:        "Vision Analysis",
			Description: "Describes or classifies an input image",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"instruction": map[string]any{
						"type": "string",
					},
					"detail": map[string]any{
						"type": "string",
						"enum": []string{"low", "high", "auto"},
					},
				},
			},
		},
		{
			ID:          "html-render",
			Name:        "HTML Render",
			Description: "Renders an HTML template to an image",
			Schema: map[string]any{
				"type":     "object",
				"required": []string{"template"},
				"properties": map[string]any{
					"template": map[string]any{
						"type":      "string",
						"minLength": 1,
					},
					"width": map[string]any{
						"type":    "integer",
						"minimum": 1,
					},
					"height": map[string]any{
						"type":    "integer",
						"minimum": 1,
					},
				},
			},
		},
	}
}
