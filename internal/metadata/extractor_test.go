package metadata

import (
	"regexp"
	"testing"

	"manual-smart-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractServiceManual(t *testing.T) {
	res := NewExtractor().Extract("U1700L_Service_Manual.pdf", "Valid for vehicles built 1976 through 1991.")

	assert.Contains(t, res.ModelCodes, "U1700L")
	assert.Equal(t, model.CategoryService, res.Category)
	require.NotNil(t, res.YearRange)
	assert.Equal(t, "1976-1991", *res.YearRange)
	assert.False(t, res.Incomplete)
}

func TestExtractModelCodes(t *testing.T) {
	e := NewExtractor()

	tests := []struct {
		name   string
		sample string
		want   []string
	}{
		{"u-series with punctuation", "(U400), U5023/U4023 and U1300L.", []string{"U1300L", "U400", "U4023", "U5023"}},
		{"embedded in a word", "XU1700L and U1700LX", []string{}},
		{"legacy series", "Unimog 406 and type 416; page 123", []string{"406", "416"}},
		{"named series", "MB-trac 1000, MB trac, Unimog SEE, FLU-419, Zetros 1833", []string{"FLU 419", "MB-trac", "MB-trac 1000", "SEE", "Zetros"}},
		{"deduplicated", "U1700L U1700L u1700l", []string{"U1700L"}},
		{"nothing", "general purpose text", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Extract("", tt.sample).ModelCodes)
		})
	}
}

func TestExtractYearRange(t *testing.T) {
	e := NewExtractor()

	single := e.Extract("manual.pdf", "Printed 1985")
	require.NotNil(t, single.YearRange)
	assert.Equal(t, "1985", *single.YearRange)

	none := e.Extract("manual.pdf", "Part 1234, year 1949, year 2031, code U1980")
	assert.Nil(t, none.YearRange)
	assert.True(t, none.Incomplete)

	multi := e.Extract("manual_2001.pdf", "1999 2005 1962")
	require.NotNil(t, multi.YearRange)
	assert.Equal(t, "1962-2005", *multi.YearRange)
}

func TestExtractCategoryOrder(t *testing.T) {
	e := NewExtractor()

	assert.Equal(t, model.CategoryService, e.Extract("service_and_parts_manual.pdf", "").Category)
	assert.Equal(t, model.CategoryOperator, e.Extract("manual.pdf", "Operator's service guide").Category)
	assert.Equal(t, model.CategoryParts, e.Extract("U406-Parts-Catalog.pdf", "").Category)
	assert.Equal(t, model.CategoryHydraulic, e.Extract("x.pdf", "HYDRAULIC system").Category)
	assert.Equal(t, model.CategoryGeneral, e.Extract("brochure.pdf", "nice pictures").Category)
}

func TestExtractorCustomRules(t *testing.T) {
	e := NewExtractor(
		WithModelCodeRules([]ModelCodeRule{{Name: "sk", Pattern: regexp.MustCompile(`SK\d{4}`)}}),
		WithCategoryRules([]CategoryRule{{model.CategoryEngine, []string{"om 352"}}}),
	)
	res := e.Extract("SK1850.pdf", "OM 352 overhaul, U1700L")
	assert.Equal(t, []string{"SK1850"}, res.ModelCodes)
	assert.Equal(t, model.CategoryEngine, res.Category)
}

func TestTitleFromFilename(t *testing.T) {
	assert.Equal(t, "U1700L Service Manual", TitleFromFilename("U1700L_Service_Manual.pdf"))
	assert.Equal(t, "MB trac 1000 parts v2", TitleFromFilename("uploads/MB-trac--1000_parts.v2.pdf"))
	assert.Equal(t, "README", TitleFromFilename("README"))
}
