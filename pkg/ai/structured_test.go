package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type analysisRecord struct {
	RealName     string `json:"realName"`
	Relationship int    `json:"relationship"`
}

func TestParseStructured_PlainJSON(t *testing.T) {
	var rec analysisRecord
	ok := ParseStructured(`{"realName":"Alex","relationship":64}`, &rec)
	require.True(t, ok)
	assert.Equal(t, "Alex", rec.RealName)
	assert.Equal(t, 64, rec.Relationship)
}

func TestParseStructured_StripsFencesAndCommentary(t *testing.T) {
	text := "Sure, here is the analysis:\n```json\n{\"realName\":\"Alex\",\"relationship\":64}\n```\nHope that helps!"
	var rec analysisRecord
	require.True(t, ParseStructured(text, &rec))
	assert.Equal(t, "Alex", rec.RealName)
}

func TestParseStructured_NoBracketsIsAbsent(t *testing.T) {
	var rec analysisRecord
	assert.False(t, ParseStructured("I could not analyze anything today.", &rec))
	assert.Zero(t, rec)
}

func TestParseStructured_StrictOnUnknownFields(t *testing.T) {
	var rec analysisRecord
	assert.False(t, ParseStructured(`{"realName":"Alex","surprise":true}`, &rec))
}

func TestParseStructured_InvalidJSONIsAbsent(t *testing.T) {
	var rec analysisRecord
	assert.False(t, ParseStructured(`{"realName": "Alex",`, &rec))
}

func TestParseStructured_MapTarget(t *testing.T) {
	out := map[string]analysisRecord{}
	text := "```\n{\"42\":{\"realName\":\"Alex\",\"relationship\":70}}\n```"
	require.True(t, ParseStructured(text, &out))
	assert.Equal(t, 70, out["42"].Relationship)
}
