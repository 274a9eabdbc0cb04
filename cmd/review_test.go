package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prguard/internal/cost"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/review"
	"github.com/joescharf/prguard/internal/store"
)

const passwordDiff = `diff --git a/app.py b/app.py
--- a/app.py
+++ b/app.py
@@ -1,2 +1,3 @@
 import os
+password = "abc123"
 print("hi")
`

// reviewEnv isolates config and resets the review flags.
func reviewEnv(t *testing.T) string {
	t.Helper()
	dir := testEnv(t)
	viper.Set("anthropic.api_key", "")
	viper.Set("github.token", "")

	reviewDiffFile, reviewModel, reviewBase = "", "", ""
	reviewJSON = false
	dryRun = true
	ui.DryRun = true
	t.Cleanup(func() {
		reviewDiffFile, reviewModel, reviewBase = "", "", ""
		reviewJSON = false
		dryRun = false
	})
	return dir
}

func writeDiff(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "change.diff")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReviewRun_DiffFileDryRun(t *testing.T) {
	dir := reviewEnv(t)
	reviewDiffFile = writeDiff(t, dir, passwordDiff)

	err := reviewRun(context.Background(), "acme/widgets#7")
	require.NoError(t, err)

	out := captured(t)
	assert.Contains(t, out, "SEC-password")
	assert.Contains(t, out, "critical")

	// No AI key: nothing billed.
	records, _, err := cost.NewLedger(viper.GetString("ledger_path")).ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records)

	s, err := getStore()
	require.NoError(t, err)
	runs, err := s.ListRuns(context.Background(), store.RunListFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", runs[0].Subject)
	assert.Equal(t, models.RiskCritical, runs[0].RiskLevel)
	assert.Equal(t, 1, runs[0].FindingCount)

	spans, err := s.ListSpans(context.Background(), store.SpanListFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, spans, "store exporter should persist spans on shutdown")
}

func TestReviewRun_JSON(t *testing.T) {
	dir := reviewEnv(t)
	reviewDiffFile = writeDiff(t, dir, passwordDiff)
	reviewJSON = true
	viper.Set("telemetry.exporter", "none")

	require.NoError(t, reviewRun(context.Background(), "https://github.com/acme/widgets/pull/7"))
	out := captured(t)
	assert.Contains(t, out, `"risk_level": "critical"`)
	assert.Contains(t, out, `"total_cost_usd": 0`)

	// The dry-run comment goes to stderr so stdout stays a single document.
	var sum review.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, models.RiskCritical, sum.RiskLevel)
	assert.Equal(t, review.StatusSkipped, sum.Publish)
	assert.Contains(t, ui.ErrOut.(*bytes.Buffer).String(), "Risk Assessment")
}

func TestReviewRun_InvalidLocator(t *testing.T) {
	reviewEnv(t)

	err := reviewRun(context.Background(), "not a pull request")
	require.Error(t, err)

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)

	var inputErr *models.InputError
	assert.True(t, errors.As(err, &inputErr))
}

func TestReviewRun_MissingLocator(t *testing.T) {
	reviewEnv(t)

	err := reviewRun(context.Background(), "")
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)
}

func TestReviewRun_FetchFailureExitsOne(t *testing.T) {
	dir := reviewEnv(t)
	reviewDiffFile = filepath.Join(dir, "missing.diff")

	err := reviewRun(context.Background(), "acme/widgets#7")
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 1, ee.code)
}

func TestCostsRun_Formats(t *testing.T) {
	dir := testEnv(t)
	ledger := cost.NewLedger(filepath.Join(dir, "cost.csv"))
	require.NoError(t, ledger.Append(models.CostRecord{
		Timestamp: time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC), Subject: "https://github.com/acme/widgets/pull/7",
		Operation: "analyze", Model: "gpt-4o-mini", PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150,
		Cost:      0.0225, LatencyMs: 1500,
	}))
	t.Cleanup(func() { costsFormat, costsSubject, costsMonthly = "table", "", false })

	costsFormat = "csv"
	require.NoError(t, costsRun(ledger))
	out := captured(t)
	assert.Contains(t, out, "group,key,cost_usd,tokens,count")
	assert.Contains(t, out, "operation,analyze,0.022500,150,1")

	ui.Out.(interface{ Reset() }).Reset()
	costsFormat = "table"
	costsMonthly = true
	require.NoError(t, costsRun(ledger))
	assert.Contains(t, captured(t), "2025-04")

	ui.Out.(interface{ Reset() }).Reset()
	costsMonthly = false
	costsSubject = "acme/widgets#8"
	require.NoError(t, costsRun(ledger))
	assert.Contains(t, captured(t), "No cost records")

	costsFormat = "xml"
	err := costsRun(ledger)
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)
}

func TestScanRun_FailOn(t *testing.T) {
	dir := testEnv(t)
	path := writeDiff(t, dir, passwordDiff)
	t.Cleanup(func() { scanFailOn, scanJSON = "", false })

	scanFailOn = ""
	require.NoError(t, scanRun(context.Background(), path))
	assert.Contains(t, captured(t), "SEC-password")

	scanFailOn = "high"
	err := scanRun(context.Background(), path)
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 3, ee.code)

	scanFailOn = "severe"
	err = scanRun(context.Background(), path)
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)
}

func TestScanRun_CleanDiffJSON(t *testing.T) {
	dir := testEnv(t)
	path := writeDiff(t, dir, "--- a/x\n+++ b/x\n-old line\n")
	scanJSON = true
	t.Cleanup(func() { scanJSON = false })

	require.NoError(t, scanRun(context.Background(), path))
	out := captured(t)
	assert.Contains(t, out, `"risk_level": "low"`)
	assert.Contains(t, out, `"findings": []`)
}

func TestRunsCommands(t *testing.T) {
	testEnv(t)
	s, err := getStore()
	require.NoError(t, err)
	ctx := context.Background()

	old := &models.Run{Subject: "https://github.com/acme/widgets/pull/1", Status: models.RunStatusDone,
		RiskLevel: models.RiskLow, StartedAt: time.Now().Add(-60 * 24 * time.Hour)}
	recent := &models.Run{Subject: "https://github.com/acme/widgets/pull/2", Status: models.RunStatusDegraded,
		RiskLevel: models.RiskHigh, Errors: []string{"remediate: timeout"}, StartedAt: time.Now()}
	require.NoError(t, s.CreateRun(ctx, old))
	require.NoError(t, s.CreateRun(ctx, recent))

	t.Cleanup(func() { runsLimit, runsSubject, runsStatus, runsOlderThan = 20, "", "", 30*24*time.Hour })
	runsLimit = 20

	require.NoError(t, runsListRun(ctx, s))
	assert.Contains(t, captured(t), recent.ID)

	require.NoError(t, runsShowRun(ctx, s, recent.ID))
	assert.Contains(t, captured(t), "remediate: timeout")

	runsOlderThan = 30 * 24 * time.Hour
	require.NoError(t, runsPruneRun(ctx, s, time.Now()))
	runs, err := s.ListRuns(ctx, store.RunListFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, recent.ID, runs[0].ID)

	assert.Error(t, runsShowRun(ctx, s, "missing"))
}
