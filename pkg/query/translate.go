package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
)

// Supported filter operators, evaluated in this order for deterministic SQL.
// Operator keys outside this set are silently ignored; callers sending a
// typo'd operator get an unconstrained field, not an error. This mirrors the
// tolerance the API has always had and is relied on by existing clients.
var operatorOrder = []string{
	"$eq", "$ne", "$in", "$nin", "$gt", "$gte", "$lt", "$lte", "$exists", "$regex",
}

// metaColumns are row columns addressable directly in ORDER BY.
var metaColumns = map[string]struct{}{
	"id": {}, "created_date": {}, "updated_date": {}, "created_by": {},
}

// Where appends the predicate for a MongoDB-style filter object to b and
// returns the WHERE fragment (without the keyword). Multiple fields are
// ANDed. An empty fragment means no constraint.
//
// The id field is matched against the identifier column, created_date and
// updated_date against the timestamp columns; every other field is matched
// against keys inside the jsonb payload.
func Where(b *Builder, filter map[string]any) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}

	fields := make([]string, 0, len(filter))
	for f := range filter {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var conds []string
	for _, field := range fields {
		if err := ValidateFieldName(field); err != nil {
			return "", err
		}

		var fieldConds []string
		var err error
		switch field {
		case "id":
			fieldConds = idConditions(b, filter[field])
		case "created_date", "updated_date":
			fieldConds = timeConditions(b, field, filter[field])
		default:
			fieldConds, err = payloadConditions(b, field, filter[field])
		}
		if err != nil {
			return "", err
		}
		conds = append(conds, fieldConds...)
	}

	return strings.Join(conds, " AND "), nil
}

// OrderBy builds the ORDER BY expression for a sort spec: a field name with
// an optional leading '-' for descending. Meta columns sort natively; payload
// fields sort on their text value, so numeric-looking payload values order
// lexicographically (10 before 2). Clients that need numeric order sort on a
// meta column or client-side; changing this would reorder existing UIs.
func OrderBy(sort string) (string, error) {
	if sort == "" {
		return "created_date DESC", nil
	}

	dir := "ASC"
	field := sort
	if strings.HasPrefix(sort, "-") {
		dir = "DESC"
		field = sort[1:]
	}

	if err := ValidateFieldName(field); err != nil {
		return "", err
	}

	if _, ok := metaColumns[field]; ok {
		return field + " " + dir, nil
	}
	return "data ->> '" + field + "' " + dir, nil
}

// idConditions builds predicates against the identifier column. Values are
// coerced to the identifier type; anything unparseable can never match.
func idConditions(b *Builder, v any) []string {
	if m, ok := v.(map[string]any); ok {
		var conds []string
		for _, op := range operatorOrder {
			val, present := m[op]
			if !present {
				continue
			}
			switch op {
			case "$eq":
				conds = append(conds, idEquality(b, val, false))
			case "$ne":
				conds = append(conds, idEquality(b, val, true))
			case "$in":
				conds = append(conds, idSet(b, val, false))
			case "$nin":
				conds = append(conds, idSet(b, val, true))
			}
		}
		return conds
	}
	return []string{idEquality(b, v, false)}
}

func idEquality(b *Builder, v any, negate bool) string {
	s, ok := v.(string)
	if !ok {
		return constantMatch(negate)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return constantMatch(negate)
	}
	if negate {
		return "id <> " + b.Bind(id)
	}
	return "id = " + b.Bind(id)
}

func idSet(b *Builder, v any, negate bool) string {
	vals, ok := v.([]any)
	if !ok {
		return constantMatch(negate)
	}
	ids := make([]uuid.UUID, 0, len(vals))
	for _, raw := range vals {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if id, err := uuid.Parse(s); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return constantMatch(negate)
	}
	ph := b.Bind(ids)
	if negate {
		return "NOT (id = ANY(" + ph + "))"
	}
	return "id = ANY(" + ph + ")"
}

// constantMatch is the predicate for a value that can never equal an id:
// FALSE for equality, TRUE (no constraint) for negated forms.
func constantMatch(negate bool) string {
	if negate {
		return "TRUE"
	}
	return "FALSE"
}

// timeConditions builds predicates against the timestamp columns. Values are
// bound as given and coerced to timestamptz by the database.
func timeConditions(b *Builder, column string, v any) []string {
	ops := map[string]string{
		"$eq": "=", "$ne": "<>", "$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<=",
	}

	if m, ok := v.(map[string]any); ok {
		var conds []string
		for _, op := range operatorOrder {
			val, present := m[op]
			if !present {
				continue
			}
			sqlOp, known := ops[op]
			if !known {
				continue
			}
			conds = append(conds, column+" "+sqlOp+" "+b.Bind(timeOperand(val)))
		}
		return conds
	}
	return []string{column + " = " + b.Bind(timeOperand(v))}
}

func timeOperand(v any) any {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// payloadConditions builds predicates against a key inside the jsonb payload.
// Equality compares text representations, except booleans which compare as
// booleans; range operators coerce to numeric; $regex is case-insensitive;
// $exists checks key presence, not value truthiness.
func payloadConditions(b *Builder, field string, v any) ([]string, error) {
	ref := "data ->> '" + field + "'"

	m, isOperator := v.(map[string]any)
	if !isOperator {
		cond, err := payloadEquality(b, field, v)
		if err != nil {
			return nil, err
		}
		return []string{cond}, nil
	}

	var conds []string
	for _, op := range operatorOrder {
		val, present := m[op]
		if !present {
			continue
		}
		switch op {
		case "$eq":
			cond, err := payloadEquality(b, field, val)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		case "$ne":
			if val == nil {
				conds = append(conds, ref+" IS NOT NULL")
				break
			}
			text, ok := textValue(val)
			if !ok {
				return nil, fmt.Errorf("%w: unsupported $ne operand for %q", apperrors.ErrInvalidFilter, field)
			}
			conds = append(conds, ref+" IS DISTINCT FROM "+b.Bind(text))
		case "$in", "$nin":
			vals, ok := val.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s operand for %q must be an array", apperrors.ErrInvalidFilter, op, field)
			}
			texts := make([]string, 0, len(vals))
			for _, raw := range vals {
				if text, ok := textValue(raw); ok {
					texts = append(texts, text)
				}
			}
			if op == "$in" {
				if len(texts) == 0 {
					conds = append(conds, "FALSE")
					break
				}
				conds = append(conds, ref+" = ANY("+b.Bind(texts)+")")
			} else if len(texts) > 0 {
				conds = append(conds, ref+" != ALL("+b.Bind(texts)+")")
			}
		case "$gt", "$gte", "$lt", "$lte":
			n, err := numericValue(val)
			if err != nil {
				return nil, fmt.Errorf("%w: %s operand for %q must be numeric", apperrors.ErrInvalidFilter, op, field)
			}
			sqlOp := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op]
			conds = append(conds, "("+ref+")::numeric "+sqlOp+" "+b.Bind(n))
		case "$exists":
			want, ok := val.(bool)
			if !ok {
				continue
			}
			if want {
				conds = append(conds, "data ? '"+field+"'")
			} else {
				conds = append(conds, "NOT (data ? '"+field+"')")
			}
		case "$regex":
			pattern, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("%w: $regex operand for %q must be a string", apperrors.ErrInvalidFilter, field)
			}
			conds = append(conds, ref+" ~* "+b.Bind(pattern))
		}
	}
	return conds, nil
}

func payloadEquality(b *Builder, field string, v any) (string, error) {
	ref := "data ->> '" + field + "'"
	jref := "data -> '" + field + "'"

	switch val := v.(type) {
	case nil:
		return ref + " IS NULL", nil
	case bool:
		return jref + " = to_jsonb(" + b.Bind(val) + "::boolean)", nil
	case []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("%w: unencodable value for %q", apperrors.ErrInvalidFilter, field)
		}
		return jref + " = " + b.Bind(string(raw)) + "::jsonb", nil
	default:
		text, ok := textValue(v)
		if !ok {
			return "", fmt.Errorf("%w: unsupported value for %q", apperrors.ErrInvalidFilter, field)
		}
		return ref + " = " + b.Bind(text), nil
	}
}

// textValue renders a scalar the way jsonb's ->> operator does, so bound
// values compare against the stored text representation.
func textValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}

func numericValue(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}
