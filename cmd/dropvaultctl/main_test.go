package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaushikharsh99/Dropvault/internal/core/retrieval"
	"github.com/kaushikharsh99/Dropvault/internal/models"
)

func TestSearchCommand_RequiresOwner(t *testing.T) {
	app := newCLI()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard

	err := app.Run([]string{"dropvaultctl", "search", "invoice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")
}

func TestResyncGitHub_RequiresOwner(t *testing.T) {
	app := newCLI()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard

	err := app.Run([]string{"dropvaultctl", "resync", "github"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")
}

func TestPrintResults(t *testing.T) {
	var out bytes.Buffer
	printResults(&out, &retrieval.SearchResponse{
		Filters: "Type: image",
		Results: []retrieval.Result{
			{Title: "Receipt", Type: models.ItemTypeImage, Score: 1.234, Explanation: "Best match in ocr (1.10)"},
		},
	})

	s := out.String()
	assert.Contains(t, s, "filters: Type: image")
	assert.Contains(t, s, "1.234")
	assert.Contains(t, s, "Receipt")
	assert.Contains(t, s, "Best match in ocr (1.10)")
}

func TestPrintResults_Empty(t *testing.T) {
	var out bytes.Buffer
	printResults(&out, &retrieval.SearchResponse{})
	assert.Equal(t, "no results\n", out.String())
}
