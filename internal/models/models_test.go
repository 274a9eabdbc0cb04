package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubject(t *testing.T) {
	t.Run("pull request URL", func(t *testing.T) {
		s, err := ParseSubject("https://github.com/acme/widgets/pull/42")
		require.NoError(t, err)
		assert.Equal(t, "github.com", s.Host)
		assert.Equal(t, "acme", s.Owner)
		assert.Equal(t, "widgets", s.Repo)
		assert.Equal(t, 42, s.Number)
		assert.Equal(t, "https://github.com/acme/widgets/pull/42", s.Locator)
	})

	t.Run("trailing segments are canonicalized", func(t *testing.T) {
		s, err := ParseSubject("https://github.com/acme/widgets/pull/42/files/")
		require.NoError(t, err)
		assert.Equal(t, "https://github.com/acme/widgets/pull/42", s.Locator)
	})

	t.Run("enterprise host", func(t *testing.T) {
		s, err := ParseSubject("https://GHE.example.com/team/api/pull/7")
		require.NoError(t, err)
		assert.Equal(t, "ghe.example.com", s.Host)
		assert.Equal(t, "team/api", s.Repository())
	})

	t.Run("short form", func(t *testing.T) {
		s, err := ParseSubject("acme/widgets#3")
		require.NoError(t, err)
		assert.Equal(t, DefaultHost, s.Host)
		assert.Equal(t, 3, s.Number)
		assert.Equal(t, "acme/widgets#3", s.String())
		assert.Equal(t, "https://github.com/acme/widgets/pull/3", s.Locator)
	})

	malformed := []string{
		"",
		"   ",
		"acme/widgets",
		"acme#3",
		"acme/widgets#zero",
		"acme/widgets#0",
		"https://github.com/acme/widgets/issues/3",
		"https://github.com/acme/widgets/pull/abc",
		"https://github.com/acme",
		"ftp://github.com/acme/widgets/pull/3",
	}
	for _, loc := range malformed {
		t.Run("malformed "+loc, func(t *testing.T) {
			_, err := ParseSubject(loc)
			require.Error(t, err)
			var inErr *InputError
			assert.True(t, errors.As(err, &inErr))
		})
	}
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, 10, SeverityCritical.Weight())
	assert.Equal(t, 7, SeverityHigh.Weight())
	assert.Equal(t, 4, SeverityMedium.Weight())
	assert.Equal(t, 1, SeverityLow.Weight())
	assert.Equal(t, 0, Severity("bogus").Weight())

	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Equal(t, 0, Severity("").Rank())
	assert.Equal(t, SeverityHigh, ParseSeverity(" HIGH "))
}

func TestCategory(t *testing.T) {
	assert.True(t, CategoryCredentialExposure.IsSecurity())
	assert.True(t, CategorySecurity.IsSecurity())
	assert.False(t, CategoryStyle.IsSecurity())

	assert.True(t, CategoryIndentation.IsSafe())
	assert.True(t, CategoryLength.IsSafe())
	assert.False(t, CategoryPromptInjection.IsSafe())
	assert.False(t, CategoryBug.IsSafe())

	assert.Equal(t, CategorySecurity, ParseCategory("Security"))
	assert.Equal(t, CategoryStyle, ParseCategory("formatting"))
	assert.Equal(t, CategoryLength, ParseCategory("length"))
	assert.Equal(t, CategoryOther, ParseCategory("naming"))
}

func TestCounts(t *testing.T) {
	findings := []Finding{
		{Line: 1, Category: CategoryCredentialExposure, Severity: SeverityCritical},
		{Line: 2, Category: CategoryStyle, Severity: SeverityLow},
		{Line: 3, Category: CategoryStyle, Severity: SeverityLow},
	}
	counts := CountBySeverity(findings)
	assert.Equal(t, 1, counts[SeverityCritical])
	assert.Equal(t, 2, counts[SeverityLow])
	assert.Equal(t, 1, CountSecurity(findings))
}
