package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysis(t *testing.T) {
	text := `{
		"summary": "A summary.",
		"leftPerspective": "Left view.",
		"centerPerspective": "Center view.",
		"rightPerspective": "Right view.",
		"factualAccuracy": 8,
		"sources": ["https://example.com/a", "https://example.com/b"]
	}`

	a, err := parseAnalysis(text)
	require.NoError(t, err)
	assert.Equal(t, "A summary.", a.Summary)
	assert.Equal(t, "Left view.", a.LeftPerspective)
	assert.Equal(t, 8, a.FactualAccuracy)
	assert.Len(t, a.Sources, 2)
}

func TestParseAnalysisDefaults(t *testing.T) {
	a, err := parseAnalysis(`{}`)
	require.NoError(t, err)
	assert.Equal(t, "No summary provided", a.Summary)
	assert.Equal(t, "No left perspective provided", a.LeftPerspective)
	assert.Equal(t, "No center perspective provided", a.CenterPerspective)
	assert.Equal(t, "No right perspective provided", a.RightPerspective)
	assert.Zero(t, a.FactualAccuracy)
	assert.Empty(t, a.Sources)
}

func TestParseAnalysisFloatAccuracy(t *testing.T) {
	a, err := parseAnalysis(`{"summary": "s", "factualAccuracy": 7.6}`)
	require.NoError(t, err)
	assert.Equal(t, 7, a.FactualAccuracy)
}

func TestParseAnalysisFencedJSON(t *testing.T) {
	text := "```json\n{\"summary\": \"Fenced.\", \"factualAccuracy\": 5}\n```"
	a, err := parseAnalysis(text)
	require.NoError(t, err)
	assert.Equal(t, "Fenced.", a.Summary)
	assert.Equal(t, 5, a.FactualAccuracy)
}

func TestParseAnalysisMalformed(t *testing.T) {
	_, err := parseAnalysis("I cannot produce JSON today")
	assert.Error(t, err)
}

func TestParseQuestions(t *testing.T) {
	text := `{"questions": [
		{"question": "First?"},
		{"question": "Second?"}
	]}`

	qs, err := parseQuestions(text)
	require.NoError(t, err)
	assert.Equal(t, []string{"First?", "Second?"}, qs)
}

func TestParseQuestionsCapped(t *testing.T) {
	text := `{"questions": [
		{"question": "1?"}, {"question": "2?"}, {"question": "3?"},
		{"question": "4?"}, {"question": "5?"}
	]}`

	qs, err := parseQuestions(text)
	require.NoError(t, err)
	assert.Len(t, qs, MaxQuestions)
}

func TestParseQuestionsSkipsBlank(t *testing.T) {
	text := `{"questions": [{"question": "  "}, {"question": "Real?"}]}`

	qs, err := parseQuestions(text)
	require.NoError(t, err)
	assert.Equal(t, []string{"Real?"}, qs)
}

func TestParseQuestionsNone(t *testing.T) {
	qs, err := parseQuestions(`{"questions": []}`)
	require.NoError(t, err)
	assert.Empty(t, qs)

	qs, err = parseQuestions(`{}`)
	require.NoError(t, err)
	assert.Empty(t, qs)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1}  "))
}
