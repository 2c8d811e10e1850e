package engine

import (
	hcerrors "github.com/greybox/hackcore/infrastructure/errors"
)

func newInvalidTransition(from, to string) error {
	return hcerrors.InvalidTransition(from, to)
}
