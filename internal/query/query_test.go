package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/schema"
)

const websiteID = "d1e2f3a4-0000-4000-8000-000000000001"

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c, err := schema.NewCatalog([]schema.Entity{
		{LogicalName: "adx_webpage", EntitySet: "adx_webpages", PrimaryID: "adx_webpageid", Attributes: []schema.Attribute{
			{Name: "adx_name", Type: schema.TypeString},
			{Name: "adx_websiteid", Type: schema.TypeLookup, Targets: []string{"adx_website"}},
			{Name: "modifiedon", Type: schema.TypeDateTime},
		}},
		{LogicalName: "adx_website", EntitySet: "adx_websites", PrimaryID: "adx_websiteid", Attributes: []schema.Attribute{
			{Name: "adx_name", Type: schema.TypeString},
		}},
	}, nil)
	require.NoError(t, err)
	return c
}

func TestBuildAppliesScopedFilters(t *testing.T) {
	since := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q, err := Build(testCatalog(t), "adx_webpage", Filters{WebsiteID: websiteID, ModifiedSince: since})
	require.NoError(t, err)

	assert.Equal(t, "adx_webpage", q.Entity)
	assert.Equal(t, "adx_webpageid", q.OrderBy)
	assert.Equal(t, []string{"adx_name", "adx_websiteid", "modifiedon"}, q.Select)
	assert.Equal(t, And{Predicates: []Predicate{
		Equals{Field: "adx_websiteid", Value: record.Ref{Entity: "adx_website", ID: websiteID}},
		OnOrAfter{Field: "modifiedon", Time: since},
	}}, q.Filter)
}

func TestBuildSkipsUndeclaredFilters(t *testing.T) {
	q, err := Build(testCatalog(t), "adx_website", Filters{WebsiteID: websiteID, ModifiedSince: time.Now()})
	require.NoError(t, err)
	assert.Nil(t, q.Filter)
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(testCatalog(t), "nope", Filters{})
	require.Error(t, err)

	_, err = Build(testCatalog(t), "adx_webpage", Filters{WebsiteID: "not-a-guid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "website")
}

func TestBuildAllOrdersByEntity(t *testing.T) {
	qs, err := BuildAll(testCatalog(t), Filters{})
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "adx_webpage", qs[0].Entity)
	assert.Equal(t, "adx_website", qs[1].Entity)
}

func TestCompileOData(t *testing.T) {
	since := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	q := Query{
		Entity:  "adx_webpage",
		Select:  []string{"adx_name", "adx_websiteid"},
		OrderBy: "adx_webpageid",
		Filter: And{Predicates: []Predicate{
			Equals{Field: "adx_websiteid", Value: record.Ref{Entity: "adx_website", ID: websiteID}},
			Equals{Field: "adx_name", Value: record.String("O'Brien")},
			OnOrAfter{Field: "modifiedon", Time: since},
		}},
	}
	opts, err := CompileOData(q)
	require.NoError(t, err)

	assert.Equal(t, "adx_name,adx_websiteid", opts.Get("$select"))
	assert.Equal(t, "adx_webpageid asc", opts.Get("$orderby"))
	assert.Equal(t,
		"(_adx_websiteid_value eq "+websiteID+") and (adx_name eq 'O''Brien') and (modifiedon ge 2024-03-01T11:00:00Z)",
		opts.Get("$filter"))
}

func TestCompileODataScalars(t *testing.T) {
	tests := []struct {
		value record.Value
		want  string
	}{
		{record.Null{}, "f eq null"},
		{record.Int(3), "f eq 3"},
		{record.OptionSet(1), "f eq 1"},
		{record.Bool(true), "f eq true"},
		{record.ID(websiteID), "f eq " + websiteID},
	}
	for _, tt := range tests {
		opts, err := CompileOData(Query{Entity: "e", Filter: Equals{Field: "f", Value: tt.value}})
		require.NoError(t, err)
		assert.Equal(t, tt.want, opts.Get("$filter"))
	}
}

func TestCompileSQL(t *testing.T) {
	since := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q := Query{
		Entity: "adx_webpage",
		Filter: And{Predicates: []Predicate{
			Equals{Field: "adx_websiteid", Value: record.Ref{Entity: "adx_website", ID: websiteID}},
			OnOrAfter{Field: "modifiedon", Time: since},
		}},
	}
	sql, params, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT entity, record_id, attributes FROM staged_records WHERE entity = ? AND `+
			`(json_extract(attributes, '$."adx_websiteid".id') = ?) AND `+
			`(json_extract(attributes, '$."modifiedon"') >= ?) ORDER BY seq ASC`,
		sql)
	assert.Equal(t, []any{"adx_webpage", websiteID, "2024-03-01T12:00:00Z"}, params)
}

func TestCompileSQLValues(t *testing.T) {
	c := NewSQLCompiler()

	sql, params, err := c.Compile(Query{Entity: "e", Filter: Equals{Field: "flag", Value: record.Bool(true)}})
	require.NoError(t, err)
	assert.Contains(t, sql, `json_extract(attributes, '$."flag"') = ?`)
	assert.Equal(t, []any{"e", 1}, params)

	sql, params, err = c.Compile(Query{Entity: "e", Filter: Equals{Field: "statecode", Value: record.OptionSet(1)}})
	require.NoError(t, err)
	assert.Contains(t, sql, `'$."statecode".option'`)
	assert.Equal(t, []any{"e", int64(1)}, params)

	sql, params, err = c.Compile(Query{Entity: "e", Filter: Equals{Field: "fax", Value: record.Null{}}})
	require.NoError(t, err)
	assert.Contains(t, sql, `json_type(attributes, '$."fax"') = 'null'`)
	assert.Equal(t, []any{"e"}, params)
}

func TestValidateRejectsUnsafeNames(t *testing.T) {
	bad := []Query{
		{Entity: "e; drop table x"},
		{Entity: "e", Select: []string{"a b"}},
		{Entity: "e", OrderBy: "x desc"},
		{Entity: "e", Filter: Equals{Field: "a') or 1=1 --", Value: record.Int(1)}},
		{Entity: "e", Filter: And{Predicates: []Predicate{OnOrAfter{Field: "$.x"}}}},
		{Entity: "e", Filter: Equals{Field: "a"}},
	}
	for _, q := range bad {
		assert.Error(t, Validate(q), "%+v", q)
		_, _, err := NewSQLCompiler().Compile(q)
		assert.Error(t, err)
	}
}
