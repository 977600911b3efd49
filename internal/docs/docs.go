// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package docs serves the edge's OpenAPI contract, both as the raw YAML
// file operators check into source control and as JSON for tooling that
// prefers it (Swagger UI, client generators).
package docs

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
)

// Handler serves the loaded OpenAPI document.
type Handler struct {
	raw  []byte
	json []byte
}

// Load reads and validates the OpenAPI document at path, pre-rendering
// both the raw and JSON representations served by Handler.
func Load(path string) (*Handler, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("docs: load openapi spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("docs: invalid openapi spec: %w", err)
	}

	jsonBytes, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("docs: marshal openapi spec to json: %w", err)
	}

	rawBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("docs: read raw openapi spec: %w", err)
	}

	return &Handler{raw: rawBytes, json: jsonBytes}, nil
}

// ServeYAML writes the raw OpenAPI document.
func (h *Handler) ServeYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(h.raw)
}

// ServeJSON writes the OpenAPI document converted to JSON.
func (h *Handler) ServeJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(h.json)
}
