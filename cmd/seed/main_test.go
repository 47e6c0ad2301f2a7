package main

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindgrate/backend/internal/services"
)

func TestDemoMindOps(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range demoMindOps {
		_, err := uuid.Parse(d.UserID)
		require.NoError(t, err, d.Name)
		assert.False(t, seen[d.UserID], "duplicate user %s", d.UserID)
		seen[d.UserID] = true

		rows, err := services.ParseSpreadsheet(strings.NewReader(d.Sheet))
		require.NoError(t, err, d.Name)
		assert.NotEmpty(t, rows)
	}
}
