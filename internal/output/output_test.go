package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prguard/internal/models"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestDryRunMsg_Enabled(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRun = true
	u.DryRunMsg("would create %s", "file")
	assert.Contains(t, errOut.String(), "[DRY-RUN]")
	assert.Contains(t, errOut.String(), "would create file")
}

func TestDryRunMsg_Disabled(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRun = false
	u.DryRunMsg("would create %s", "file")
	assert.Empty(t, errOut.String())
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "$0.022500", Money(0.0225))
	assert.Equal(t, "$0.000000", Money(0))
}

func TestStatusColor(t *testing.T) {
	assert.NotEmpty(t, StatusColor("done"))
	assert.NotEmpty(t, StatusColor("degraded"))
	assert.NotEmpty(t, StatusColor("failed"))
	assert.NotEmpty(t, StatusColor("skipped"))
	assert.Equal(t, "unknown", StatusColor("unknown"))
}

func TestRiskColor(t *testing.T) {
	for _, level := range []string{"low", "medium", "high", "critical"} {
		assert.Contains(t, RiskColor(level), level)
	}
	assert.Equal(t, "bogus", RiskColor("bogus"))
	assert.Contains(t, SeverityColor("high"), "high")
}

func TestFindings(t *testing.T) {
	u, out, _ := newTestUI()
	err := u.Findings([]models.Finding{
		{Line: 4, Severity: models.SeverityCritical, Category: models.CategoryCredentialExposure,
			Explanation: "hardcoded password", Origin: models.OriginRuleEngine, RuleID: "SEC-password"},
		{Line: 9, Severity: models.SeverityLow, Category: models.CategoryStyle,
			Explanation: "spacing", Origin: models.OriginAIModel},
	})
	require.NoError(t, err)
	result := out.String()
	assert.Contains(t, result, "SEC-password")
	assert.Contains(t, result, "hardcoded password")
	assert.Contains(t, result, "ai-model")

	u, out, _ = newTestUI()
	require.NoError(t, u.Findings(nil))
	assert.Contains(t, out.String(), "No issues found")
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Subject", "Status"})
	require.NotNil(t, table)

	table.Append([]string{"acme/widgets#7", "done"})
	table.Append([]string{"acme/gadgets#2", "failed"})
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.True(t, strings.Contains(result, "acme/widgets#7"), "table output should contain subjects")
	assert.True(t, strings.Contains(result, "acme/gadgets#2"), "table output should contain subjects")
}
