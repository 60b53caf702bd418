/*
Package facet – external condition adapter.

Where wraps a condition built with the AWS SDK expression package so callers
can attach arbitrary filters and conditions to any operation. The SDK keeps
its own "#0"/":0" placeholder namespace, distinct from the compiler's
"#_0"/":_0" names, which is what makes merging collision-free.
*/
package facet

import (
	dynexpr "github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Where carries an externally built filter or condition.
type Where struct {
	cond  dynexpr.ConditionBuilder
	built *dynexpr.Expression
}

// NewWhere wraps a ConditionBuilder, e.g.
//
//	facet.NewWhere(expression.Name("balance").GreaterThan(expression.Value(0)))
func NewWhere(cond dynexpr.ConditionBuilder) *Where {
	return &Where{cond: cond}
}

func (w *Where) compile() error {
	if w.built != nil {
		return nil
	}
	ex, err := dynexpr.NewBuilder().WithFilter(w.cond).Build()
	if err != nil {
		return err
	}
	w.built = &ex
	return nil
}

// Build returns the expression string.
func (w *Where) Build() (string, error) {
	if err := w.compile(); err != nil {
		return "", err
	}
	if w.built.Filter() == nil {
		return "", nil
	}
	return *w.built.Filter(), nil
}

// Names returns the attribute-name placeholder map.
func (w *Where) Names() map[string]string {
	if w.compile() != nil || w.built.Names() == nil {
		return nil
	}
	return w.built.Names()
}

// Values returns the marshaled value placeholder map.
func (w *Where) Values() (map[string]types.AttributeValue, error) {
	if err := w.compile(); err != nil {
		return nil, err
	}
	return w.built.Values(), nil
}
