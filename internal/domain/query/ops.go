package query

// Eval applies one comparison operator to a field value. present is false when the field is
// missing. Array-valued fields match when the whole array or any element satisfies the operator.
func Eval(op string, value any, present bool, arg any) bool {
	switch op {
	case OpEq:
		return equals(value, present, arg)
	case OpNe:
		return !equals(value, present, arg)
	case OpIn:
		return in(value, present, arg)
	case OpNin:
		return !in(value, present, arg)
	case OpExists:
		want, _ := arg.(bool)
		return present == want
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		if arr, ok := value.([]any); ok {
			for _, e := range arr {
				if compareOp(op, e, arg) {
					return true
				}
			}
			return false
		}
		return compareOp(op, value, arg)
	}
	return false
}

// EvalAll applies every operator of an operator map; all must hold.
func EvalAll(ops map[string]any, value any, present bool) bool {
	for op, arg := range ops {
		if !Eval(op, value, present, arg) {
			return false
		}
	}
	return true
}

func equals(value any, present bool, arg any) bool {
	if !present {
		return arg == nil
	}
	if Equal(value, arg) {
		return true
	}
	if arr, ok := value.([]any); ok {
		for _, e := range arr {
			if Equal(e, arg) {
				return true
			}
		}
	}
	return false
}

func in(value any, present bool, arg any) bool {
	for _, c := range AsList(arg) {
		if equals(value, present, c) {
			return true
		}
	}
	return false
}

// AsList normalizes the argument of $in / $nin to []any.
func AsList(arg any) []any {
	switch t := arg.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out
	}
	return nil
}

func compareOp(op string, value, arg any) bool {
	if !Comparable(value, arg) {
		return false
	}
	c := Compare(value, arg)
	switch op {
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}
