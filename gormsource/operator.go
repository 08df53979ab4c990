package gormsource

// Operator is a comparison operator of a filter condition.
type Operator string

const (
	OperatorEq  Operator = "="
	OperatorNeq Operator = "<>"
	OperatorLT  Operator = "<"
	OperatorLTE Operator = "<="
	OperatorGT  Operator = ">"
	OperatorGTE Operator = ">="
)

func (o Operator) Valid() bool {
	switch o {
	case OperatorEq, OperatorNeq, OperatorLT, OperatorLTE, OperatorGT, OperatorGTE:
		return true
	default:
		return false
	}
}
