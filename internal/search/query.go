package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// convertQuery converts an Elasticsearch query clause to a Bleve query.
// Only the clauses with a direct Bleve counterpart are supported.
func convertQuery(q interface{}) (query.Query, error) {
	if q == nil {
		return bleve.NewMatchAllQuery(), nil
	}
	clause, ok := q.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("query must be an object, got %T", q)
	}
	if len(clause) == 0 {
		return bleve.NewMatchAllQuery(), nil
	}
	if len(clause) != 1 {
		return nil, fmt.Errorf("query must contain exactly one clause, got %d", len(clause))
	}

	for kind, body := range clause {
		switch kind {
		case "match_all":
			return bleve.NewMatchAllQuery(), nil
		case "match_none":
			return bleve.NewMatchNoneQuery(), nil
		case "match":
			return convertMatchQuery(body, false)
		case "match_phrase":
			return convertMatchQuery(body, true)
		case "multi_match":
			return convertMultiMatchQuery(body)
		case "term":
			return convertTermQuery(body)
		case "terms":
			return convertTermsQuery(body)
		case "range":
			return convertRangeQuery(body)
		case "wildcard":
			return convertWildcardQuery(body)
		case "prefix":
			return convertPrefixQuery(body)
		case "query_string", "simple_query_string":
			return convertQueryStringQuery(body)
		case "bool":
			return convertBoolQuery(body)
		default:
			return nil, fmt.Errorf("unsupported query clause %q", kind)
		}
	}
	return bleve.NewMatchAllQuery(), nil
}

// fieldClause unpacks {"field": value} and {"field": {key: value, ...}} forms
func fieldClause(kind string, body interface{}, valueKey string) (string, map[string]interface{}, error) {
	obj, ok := body.(map[string]interface{})
	if !ok || len(obj) != 1 {
		return "", nil, fmt.Errorf("%s query must name exactly one field", kind)
	}
	for field, v := range obj {
		if params, ok := v.(map[string]interface{}); ok {
			return field, params, nil
		}
		return field, map[string]interface{}{valueKey: v}, nil
	}
	return "", nil, nil
}

func convertMatchQuery(body interface{}, phrase bool) (query.Query, error) {
	kind := "match"
	if phrase {
		kind = "match_phrase"
	}
	field, params, err := fieldClause(kind, body, "query")
	if err != nil {
		return nil, err
	}
	text, ok := params["query"]
	if !ok {
		return nil, fmt.Errorf("%s query on %s has no query text", kind, field)
	}

	if phrase {
		q := bleve.NewMatchPhraseQuery(fmt.Sprint(text))
		q.SetField(field)
		setBoost(q, params)
		return q, nil
	}

	q := bleve.NewMatchQuery(fmt.Sprint(text))
	q.SetField(field)
	if op, ok := params["operator"].(string); ok && strings.EqualFold(op, "and") {
		q.SetOperator(query.MatchQueryOperatorAnd)
	}
	setBoost(q, params)
	return q, nil
}

func convertMultiMatchQuery(body interface{}) (query.Query, error) {
	params, ok := body.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("multi_match query must be an object")
	}
	text, ok := params["query"]
	if !ok {
		return nil, fmt.Errorf("multi_match query has no query text")
	}

	fields, _ := params["fields"].([]interface{})
	if len(fields) == 0 {
		return bleve.NewMatchQuery(fmt.Sprint(text)), nil
	}

	queries := make([]query.Query, 0, len(fields))
	for _, f := range fields {
		name, boost := splitFieldBoost(fmt.Sprint(f))
		q := bleve.NewMatchQuery(fmt.Sprint(text))
		q.SetField(name)
		if boost > 0 {
			q.SetBoost(boost)
		}
		queries = append(queries, q)
	}
	return bleve.NewDisjunctionQuery(queries...), nil
}

func convertTermQuery(body interface{}) (query.Query, error) {
	field, params, err := fieldClause("term", body, "value")
	if err != nil {
		return nil, err
	}
	value, ok := params["value"]
	if !ok {
		return nil, fmt.Errorf("term query on %s has no value", field)
	}
	return termQuery(field, value), nil
}

func termQuery(field string, value interface{}) query.Query {
	switch v := value.(type) {
	case bool:
		q := bleve.NewBoolFieldQuery(v)
		q.SetField(field)
		return q
	case float64:
		inclusive := true
		q := bleve.NewNumericRangeInclusiveQuery(&v, &v, &inclusive, &inclusive)
		q.SetField(field)
		return q
	case int:
		f := float64(v)
		return termQuery(field, f)
	default:
		q := bleve.NewTermQuery(fmt.Sprint(v))
		q.SetField(field)
		return q
	}
}

func convertTermsQuery(body interface{}) (query.Query, error) {
	obj, ok := body.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("terms query must be an object")
	}
	for field, v := range obj {
		if field == "boost" {
			continue
		}
		values, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("terms query on %s needs an array of values", field)
		}
		queries := make([]query.Query, 0, len(values))
		for _, value := range values {
			queries = append(queries, termQuery(field, value))
		}
		return bleve.NewDisjunctionQuery(queries...), nil
	}
	return nil, fmt.Errorf("terms query must name a field")
}

func convertRangeQuery(body interface{}) (query.Query, error) {
	field, params, err := fieldClause("range", body, "")
	if err != nil {
		return nil, err
	}

	var lower, upper interface{}
	var lowerInclusive, upperInclusive bool
	if v, ok := params["gte"]; ok {
		lower, lowerInclusive = v, true
	} else if v, ok := params["gt"]; ok {
		lower = v
	}
	if v, ok := params["lte"]; ok {
		upper, upperInclusive = v, true
	} else if v, ok := params["lt"]; ok {
		upper = v
	}
	if lower == nil && upper == nil {
		return nil, fmt.Errorf("range query on %s has no bounds", field)
	}

	if isNumeric(lower) && isNumeric(upper) {
		q := bleve.NewNumericRangeInclusiveQuery(toFloat(lower), toFloat(upper), &lowerInclusive, &upperInclusive)
		q.SetField(field)
		return q, nil
	}

	start, startOK := toTime(lower)
	end, endOK := toTime(upper)
	if (lower == nil || startOK) && (upper == nil || endOK) {
		q := bleve.NewDateRangeInclusiveQuery(start, end, &lowerInclusive, &upperInclusive)
		q.SetField(field)
		return q, nil
	}

	q := bleve.NewTermRangeInclusiveQuery(toString(lower), toString(upper), &lowerInclusive, &upperInclusive)
	q.SetField(field)
	return q, nil
}

func convertWildcardQuery(body interface{}) (query.Query, error) {
	field, params, err := fieldClause("wildcard", body, "value")
	if err != nil {
		return nil, err
	}
	value, ok := params["value"]
	if !ok {
		return nil, fmt.Errorf("wildcard query on %s has no value", field)
	}
	q := bleve.NewWildcardQuery(fmt.Sprint(value))
	q.SetField(field)
	return q, nil
}

func convertPrefixQuery(body interface{}) (query.Query, error) {
	field, params, err := fieldClause("prefix", body, "value")
	if err != nil {
		return nil, err
	}
	value, ok := params["value"]
	if !ok {
		return nil, fmt.Errorf("prefix query on %s has no value", field)
	}
	q := bleve.NewPrefixQuery(fmt.Sprint(value))
	q.SetField(field)
	return q, nil
}

func convertQueryStringQuery(body interface{}) (query.Query, error) {
	params, ok := body.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("query_string query must be an object")
	}
	text, ok := params["query"].(string)
	if !ok {
		return nil, fmt.Errorf("query_string query needs a query string")
	}
	return bleve.NewQueryStringQuery(text), nil
}

// convertBoolQuery converts bool queries. filter clauses are treated as must.
func convertBoolQuery(body interface{}) (query.Query, error) {
	params, ok := body.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("bool query must be an object")
	}

	must, err := convertClauses(params["must"])
	if err != nil {
		return nil, err
	}
	filter, err := convertClauses(params["filter"])
	if err != nil {
		return nil, err
	}
	should, err := convertClauses(params["should"])
	if err != nil {
		return nil, err
	}
	mustNot, err := convertClauses(params["must_not"])
	if err != nil {
		return nil, err
	}

	must = append(must, filter...)
	if len(must) == 0 && len(should) == 0 && len(mustNot) == 0 {
		return bleve.NewMatchAllQuery(), nil
	}

	boolQuery := bleve.NewBooleanQuery()
	if len(must) > 0 {
		boolQuery.AddMust(must...)
	}
	if len(should) > 0 {
		boolQuery.AddShould(should...)
	}
	if len(mustNot) > 0 {
		if len(must) == 0 && len(should) == 0 {
			boolQuery.AddMust(bleve.NewMatchAllQuery())
		}
		boolQuery.AddMustNot(mustNot...)
	}
	return boolQuery, nil
}

// convertClauses accepts a single clause object or an array of them
func convertClauses(v interface{}) ([]query.Query, error) {
	switch clauses := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		q, err := convertQuery(clauses)
		if err != nil {
			return nil, err
		}
		return []query.Query{q}, nil
	case []interface{}:
		out := make([]query.Query, 0, len(clauses))
		for _, c := range clauses {
			q, err := convertQuery(c)
			if err != nil {
				return nil, err
			}
			out = append(out, q)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("bool clause must be an object or array, got %T", v)
	}
}

// convertSortParams converts "field:order" sort parameters to Bleve sort keys
func convertSortParams(params []string) []string {
	if len(params) == 0 {
		return nil
	}
	out := make([]string, 0, len(params))
	for _, p := range params {
		field, order, _ := strings.Cut(p, ":")
		out = append(out, sortKey(field, order))
	}
	return out
}

// convertSortBody converts a request body sort value: a field name, an
// object of field to order, or an array of either.
func convertSortBody(v interface{}) ([]string, error) {
	switch sort := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{sortKey(sort, "")}, nil
	case map[string]interface{}:
		var out []string
		for field, dir := range sort {
			switch order := dir.(type) {
			case string:
				out = append(out, sortKey(field, order))
			case map[string]interface{}:
				o, _ := order["order"].(string)
				out = append(out, sortKey(field, o))
			default:
				return nil, fmt.Errorf("invalid sort order for %s", field)
			}
		}
		return out, nil
	case []interface{}:
		var out []string
		for _, item := range sort {
			keys, err := convertSortBody(item)
			if err != nil {
				return nil, err
			}
			out = append(out, keys...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("sort must be a string, object or array, got %T", v)
	}
}

func sortKey(field, order string) string {
	desc := strings.EqualFold(order, "desc")
	// relevance sorts descending unless asked otherwise
	if field == "_score" && order == "" {
		desc = true
	}
	if desc {
		return "-" + field
	}
	return field
}

func splitFieldBoost(field string) (string, float64) {
	name, boost, found := strings.Cut(field, "^")
	if !found {
		return field, 0
	}
	b, err := strconv.ParseFloat(boost, 64)
	if err != nil {
		return name, 0
	}
	return name, b
}

type boostable interface {
	SetBoost(b float64)
}

func setBoost(q boostable, params map[string]interface{}) {
	if b, ok := params["boost"].(float64); ok {
		q.SetBoost(b)
	}
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case nil, float64, int, int64:
		return true
	}
	return false
}

func toFloat(v interface{}) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return nil
	}
	return &f
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
