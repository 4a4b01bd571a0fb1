package txsender

import "errors"

var (
	ErrBuildTransaction = errors.New("build transaction failed")
	ErrSignTransaction  = errors.New("sign transaction failed")
)
