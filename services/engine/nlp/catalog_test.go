// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nlp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadCatalogFile verifies the export format loads one catalog per
// business.
func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"businesses": [
			{
				"businessId": "b1",
				"exercises": [
					{"id": "e1", "name": "Back Squats", "type": "squat", "aliases": ["barbell squats"]},
					{"id": "e2", "name": "Bench Press", "type": "push"}
				]
			},
			{
				"businessId": "b2",
				"exercises": [
					{"id": "e3", "name": "Rowing Machine", "type": "cardio"}
				]
			}
		]
	}`), 0o600))

	catalog := NewInMemoryCatalog()
	require.NoError(t, LoadCatalogFile(path, catalog))

	entries, err := catalog.Exercises(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Back Squats", entries[0].Name)
	assert.Equal(t, []string{"barbell squats"}, entries[0].Aliases)

	entries, err = catalog.Exercises(context.Background(), "b2")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entries, err = catalog.Exercises(context.Background(), "b3")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestLoadCatalogFileErrors verifies missing and malformed files fail
// loudly.
func TestLoadCatalogFileErrors(t *testing.T) {
	catalog := NewInMemoryCatalog()
	assert.Error(t, LoadCatalogFile(filepath.Join(t.TempDir(), "missing.json"), catalog))

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	assert.Error(t, LoadCatalogFile(path, catalog))
}

// TestCatalogLoadReplaces verifies Load swaps a business's catalog wholesale.
func TestCatalogLoadReplaces(t *testing.T) {
	catalog := NewInMemoryCatalog()
	catalog.Load("b1", []ExerciseEntry{{ID: "e1", Name: "Back Squats"}})
	catalog.Load("b1", []ExerciseEntry{{ID: "e2", Name: "Deadlifts"}})

	entries, err := catalog.Exercises(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Deadlifts", entries[0].Name)
}
