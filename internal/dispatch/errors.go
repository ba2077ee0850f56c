package dispatch

import (
	"fmt"

	gateway "github.com/leenhawk/gproxy/internal"
)

// UnsupportedPairError reports that no transform connects From to To. It
// satisfies gateway's httpStatusError contract so it surfaces as a 400.
type UnsupportedPairError struct {
	From gateway.Dialect
	To   gateway.Dialect
}

func (e *UnsupportedPairError) Error() string {
	return fmt.Sprintf("dispatch: no transform from %s to %s", e.From, e.To)
}

func (e *UnsupportedPairError) HTTPStatus() int { return 400 }
