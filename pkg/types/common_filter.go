package types

import (
	"fmt"

	"gorm.io/gorm/clause"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq        CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq     CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt        CommonFilterOperator = "lt"
	CommonFilterOperatorLte       CommonFilterOperator = "lte"
	CommonFilterOperatorGt        CommonFilterOperator = "gt"
	CommonFilterOperatorGte       CommonFilterOperator = "gte"
	CommonFilterOperatorDateRange CommonFilterOperator = "date_range"
	CommonFilterOperatorRange     CommonFilterOperator = "range"
	CommonFilterOperatorIn        CommonFilterOperator = "in"
)

// IntentFilterFields lists the purchase intent columns admin listings may filter and sort on.
var IntentFilterFields = map[string]bool{
	"intent_reference":          true,
	"customer_email":            true,
	"file_id":                   true,
	"rail":                      true,
	"status":                    true,
	"currency":                  true,
	"amount":                    true,
	"current_attempt_reference": true,
	"created_at":                true,
	"updated_at":                true,
	"completed_at":              true,
}

type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
}

// Validate rejects filters on columns outside allowed and operators missing operands.
func (f *CommonFilter) Validate(allowed map[string]bool) error {
	if !allowed[f.Field] {
		return fmt.Errorf("filter field %q is not allowed", f.Field)
	}
	switch f.Operator {
	case CommonFilterOperatorRange, CommonFilterOperatorDateRange:
		if len(f.Values) < 2 {
			return fmt.Errorf("operator %s on %q needs two values", f.Operator, f.Field)
		}
	case CommonFilterOperatorEq, CommonFilterOperatorNotEq, CommonFilterOperatorLt, CommonFilterOperatorLte,
		CommonFilterOperatorGt, CommonFilterOperatorGte, CommonFilterOperatorIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("operator %s on %q needs a value", f.Operator, f.Field)
		}
	default:
		return fmt.Errorf("unknown filter operator %q", f.Operator)
	}
	return nil
}

// Build constructs a GORM expression.
func (f *CommonFilter) Build(builder clause.Builder) {
	if len(f.Values) == 0 {
		return
	}

	value := f.Values[0]

	switch f.Operator {
	case CommonFilterOperatorEq:
		clause.Eq{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorNotEq:
		clause.Neq{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorRange:
		if len(f.Values) < 2 {
			return
		}
		clause.And(clause.Gte{Column: f.Field, Value: f.Values[0]}, clause.Lte{Column: f.Field, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorDateRange:
		// half-open so consecutive day windows never overlap
		if len(f.Values) < 2 {
			return
		}
		clause.And(clause.Gte{Column: f.Field, Value: f.Values[0]}, clause.Lt{Column: f.Field, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: f.Field, Values: f.Values}.Build(builder)
	default:
		return
	}
}

// FiltersAnd combines filters into a single conjunction. Nil entries, which a
// JSON body decodes from null, are skipped.
type FiltersAnd []*CommonFilter

func (w FiltersAnd) Build(builder clause.Builder) {
	exprs := make([]clause.Expression, 0, len(w))
	for _, f := range w {
		if f != nil {
			exprs = append(exprs, f)
		}
	}
	if len(exprs) == 0 {
		builder.WriteString("1=1")
		return
	}
	clause.And(exprs...).Build(builder)
}
