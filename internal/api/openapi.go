package api

import "net/http"

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the clone API.
func buildOpenAPIDoc() map[string]any {
	owner := map[string]any{
		"name": "owner", "in": "path", "required": true,
		"schema": map[string]any{"type": "string"},
	}
	wait := map[string]any{
		"name": "wait", "in": "query", "required": false,
		"schema": map[string]any{"type": "boolean"},
	}
	cloneBody := map[string]any{
		"required": false,
		"content": map[string]any{
			"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/CloneRequest"}},
		},
	}
	security := []any{map[string]any{"BearerAuth": []string{}}}

	clonePost := func(id, summary string, params []any, body any) map[string]any {
		op := map[string]any{
			"operationId": id,
			"summary":     summary,
			"tags":        []string{"clones"},
			"parameters":  params,
			"responses": map[string]any{
				"200": map[string]any{"description": "Operation succeeded"},
				"202": map[string]any{"description": "Clone transition still running"},
				"400": map[string]any{"description": "Bad request or unknown source"},
				"404": map[string]any{"description": "No clone for owner"},
				"409": map[string]any{"description": "Clone occupied, busy or missing its original"},
				"503": map[string]any{"description": "Interrupted or shutting down"},
			},
			"security": security,
		}
		if body != nil {
			op["requestBody"] = body
		}
		return map[string]any{"post": op}
	}

	paths := map[string]any{
		"/healthz": map[string]any{"get": map[string]any{
			"operationId": "healthz",
			"responses":   map[string]any{"200": map[string]any{"description": "Service healthy"}},
		}},
		"/tiles": map[string]any{"get": map[string]any{
			"operationId": "previewTiles",
			"summary":     "Preview the tile selection for a region",
			"tags":        []string{"tiles"},
			"security":    security,
			"responses":   map[string]any{"200": map[string]any{"description": "Selected tiles"}},
		}},
		"/events": map[string]any{"get": map[string]any{
			"operationId": "streamEvents",
			"summary":     "Server-sent clone lifecycle events",
			"tags":        []string{"events"},
			"parameters": []any{
				map[string]any{"name": "identity", "in": "query", "schema": map[string]any{"type": "string"}},
				map[string]any{"name": "types", "in": "query", "description": "Comma-separated event types", "schema": map[string]any{"type": "string"}},
				map[string]any{"name": "access_token", "in": "query", "description": "API key for clients that cannot set headers", "schema": map[string]any{"type": "string"}},
			},
			"security": security,
			"responses":   map[string]any{"200": map[string]any{"description": "text/event-stream"}},
		}},
		"/clones/{owner}": map[string]any{"get": map[string]any{
			"operationId": "cloneStatus",
			"tags":        []string{"clones"},
			"parameters":  []any{owner},
			"security":    security,
			"responses":   map[string]any{"200": map[string]any{"description": "Clone status"}},
		}},
		"/clones/{owner}/jobs": map[string]any{"get": map[string]any{
			"operationId": "cloneJobs",
			"tags":        []string{"clones"},
			"parameters":  []any{owner},
			"security":    security,
			"responses":   map[string]any{"200": map[string]any{"description": "Recent copy jobs"}},
		}},
		"/clones/{owner}/enter":  clonePost("enterClone", "Make the owner's clone ready, copying if needed", []any{owner, wait}, cloneBody),
		"/clones/{owner}/reset":  clonePost("resetClone", "Discard and re-copy the owner's clone", []any{owner, wait}, cloneBody),
		"/clones/{owner}/load":   clonePost("loadClone", "Load an existing clone", []any{owner}, nil),
		"/clones/{owner}/unload": clonePost("unloadClone", "Unload the owner's clone", []any{owner}, nil),
		"/clones/{owner}/exit":   clonePost("exitClone", "Leave the clone for its original world", []any{owner}, nil),
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "worldclone",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
			"schemas": map[string]any{
				"CloneRequest": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"source": map[string]any{"type": "string"},
						"radius": map[string]any{"type": "integer", "minimum": 0},
						"center": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"x": map[string]any{"type": "integer"},
								"y": map[string]any{"type": "integer"},
								"z": map[string]any{"type": "integer"},
							},
						},
					},
				},
			},
		},
	}
}
