package bitable

import "encoding/json"

type Conjunction string

const (
	ConjunctionAnd Conjunction = "and"
	ConjunctionOr  Conjunction = "or"
)

type Operator string

const (
	OpIs             Operator = "is"
	OpIsNot          Operator = "isNot"
	OpContains       Operator = "contains"
	OpDoesNotContain Operator = "doesNotContain"
	OpIsEmpty        Operator = "isEmpty"
	OpIsNotEmpty     Operator = "isNotEmpty"
	OpIsGreater      Operator = "isGreater"
	OpIsLess         Operator = "isLess"
)

// Condition is one field/operator/value clause of a search filter
type Condition struct {
	FieldName string   `json:"field_name"`
	Operator  Operator `json:"operator"`
	Value     []string `json:"value"`
}

// MarshalJSON always emits value as an array; the search endpoint rejects null
func (c Condition) MarshalJSON() ([]byte, error) {
	type plain Condition
	if c.Value == nil {
		c.Value = []string{}
	}
	return json.Marshal(plain(c))
}

// Filter narrows a search server-side
type Filter struct {
	Conjunction Conjunction `json:"conjunction"`
	Conditions  []Condition `json:"conditions"`
}

func (f Filter) MarshalJSON() ([]byte, error) {
	type plain Filter
	if f.Conjunction == "" {
		f.Conjunction = ConjunctionAnd
	}
	if f.Conditions == nil {
		f.Conditions = []Condition{}
	}
	return json.Marshal(plain(f))
}

func IsEmpty(field string) Condition {
	return Condition{FieldName: field, Operator: OpIsEmpty}
}

func IsNotEmpty(field string) Condition {
	return Condition{FieldName: field, Operator: OpIsNotEmpty}
}

func Is(field, value string) Condition {
	return Condition{FieldName: field, Operator: OpIs, Value: []string{value}}
}

func Contains(field, value string) Condition {
	return Condition{FieldName: field, Operator: OpContains, Value: []string{value}}
}

// And matches records satisfying every condition
func And(conds ...Condition) Filter {
	return Filter{Conjunction: ConjunctionAnd, Conditions: conds}
}

// Or matches records satisfying any condition
func Or(conds ...Condition) Filter {
	return Filter{Conjunction: ConjunctionOr, Conditions: conds}
}
