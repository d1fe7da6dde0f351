package config

import "errors"

var (
	errInvalidRatio         = errors.New("must be >= 0.5")
	errFetchLessThanProvide = errors.New("must be >= blockSignaturesToProvide")
)
