package filter

import "errors"

var ErrNotPredicate = errors.New("expression does not evaluate to bool")
