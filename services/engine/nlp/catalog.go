// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nlp houses the language-facing components of the engine: the
// OpenAI preference parser and the tiered exercise matcher.
package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ExerciseEntry is one catalog exercise for matching purposes.
type ExerciseEntry struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    string   `json:"type,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// CatalogSource yields the exercise catalog for one business.
type CatalogSource interface {
	Exercises(ctx context.Context, businessID string) ([]ExerciseEntry, error)
}

// InMemoryCatalog is a CatalogSource backed by a map. Production loads it
// from the business's exercise export at startup; tests load it directly.
type InMemoryCatalog struct {
	mu      sync.RWMutex
	entries map[string][]ExerciseEntry
}

// NewInMemoryCatalog returns an empty catalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{entries: make(map[string][]ExerciseEntry)}
}

// Load replaces the catalog for one business.
func (c *InMemoryCatalog) Load(businessID string, entries []ExerciseEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[businessID] = append([]ExerciseEntry(nil), entries...)
}

// Exercises implements CatalogSource. An unknown business has an empty
// catalog, not an error.
func (c *InMemoryCatalog) Exercises(_ context.Context, businessID string) ([]ExerciseEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[businessID], nil
}

// catalogFile is the on-disk export format: one catalog per business.
type catalogFile struct {
	Businesses []struct {
		BusinessID string          `json:"businessId"`
		Exercises  []ExerciseEntry `json:"exercises"`
	} `json:"businesses"`
}

// LoadCatalogFile fills a catalog from the business exercise export.
func LoadCatalogFile(path string, catalog *InMemoryCatalog) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for _, b := range file.Businesses {
		catalog.Load(b.BusinessID, b.Exercises)
	}
	return nil
}

// normalize folds a phrase for comparison: lowercased, trimmed, single
// spaces, trailing plural s dropped per word.
func normalize(s string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	for i, f := range fields {
		if len(f) > 3 {
			fields[i] = strings.TrimSuffix(f, "s")
		}
	}
	return strings.Join(fields, " ")
}
