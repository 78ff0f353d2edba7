package server

import (
	"fmt"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
)

func TestBodyValidator(t *testing.T) {
	v, err := NewBodyValidator()
	require.NoError(t, err)

	tests := []struct {
		name   string
		schema string
		body   string
		valid  bool
	}{
		{"user create minimal", SchemaUserCreate, `{"first_name":"Jane","last_name":"Doe"}`, true},
		{"user create with role", SchemaUserCreate, `{"first_name":"Jane","last_name":"Doe","default_role":3}`, true},
		{"user create missing last name", SchemaUserCreate, `{"first_name":"Jane"}`, false},
		{"user create unknown field", SchemaUserCreate, `{"first_name":"Jane","last_name":"Doe","admin":true}`, false},
		{"user create zero role", SchemaUserCreate, `{"first_name":"Jane","last_name":"Doe","default_role":0}`, false},
		{"selection all", SchemaSelection, `{"all":true}`, true},
		{"selection ids", SchemaSelection, `{"user_ids":[1,2]}`, true},
		{"selection all false", SchemaSelection, `{"all":false}`, false},
		{"selection empty ids", SchemaSelection, `{"user_ids":[]}`, false},
		{"selection empty", SchemaSelection, `{}`, false},
		{"message create", SchemaMessageCreate, `{"message_text":"hi","recipient_id":2}`, true},
		{"message missing recipient", SchemaMessageCreate, `{"message_text":"hi"}`, false},
		{"malformed", SchemaLogin, `{"username":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.schema, []byte(tt.body))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
		})
	}
}

func TestBodyValidator_ReportsLocation(t *testing.T) {
	v, err := NewBodyValidator()
	require.NoError(t, err)

	err = v.Validate(SchemaUserCreate, []byte(`{"first_name":7,"last_name":"Doe"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first_name")
}

func TestBodyValidator_UnknownSchema(t *testing.T) {
	v, err := NewBodyValidator()
	require.NoError(t, err)

	err = v.Validate("nope", []byte(`{}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrInvalidInput)
}

type filterItem struct {
	Name   string `json:"name"`
	Status int    `json:"status"`
}

func TestApplyFilter(t *testing.T) {
	items := []filterItem{{"alpha", 1}, {"beta", 0}, {"gamma", 1}}

	filtered := func(expr string) ([]filterItem, error) {
		target := "/api/things"
		if expr != "" {
			target += "?filter=" + url.QueryEscape(expr)
		}
		return applyFilter(httptest.NewRequest("GET", target, nil), items)
	}

	got, err := filtered("")
	require.NoError(t, err)
	assert.Equal(t, items, got)

	got, err = filtered(`status != 0`)
	require.NoError(t, err)
	assert.Equal(t, []filterItem{{"alpha", 1}, {"gamma", 1}}, got)

	got, err = filtered(`name == "beta"`)
	require.NoError(t, err)
	assert.Equal(t, []filterItem{{"beta", 0}}, got)

	got, err = filtered(`missing == "x"`)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = filtered(`name ==`)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestCompileFilter_CacheIsBounded(t *testing.T) {
	filterCache.Purge()
	t.Cleanup(filterCache.Purge)

	for i := 0; i < filterCacheSize*2; i++ {
		_, err := compileFilter(fmt.Sprintf("status == %d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, filterCacheSize, filterCache.Len())

	first, err := compileFilter(`name == "alpha"`)
	require.NoError(t, err)
	again, err := compileFilter(`name == "alpha"`)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.False(t, filterCache.Contains("status == 0"), "oldest expressions are evicted")
}
