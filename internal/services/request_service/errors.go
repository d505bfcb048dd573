package requestservice

import "errors"

var (
	ErrRequestNotFound   = errors.New("vm request not found")
	ErrEmptyName         = errors.New("vm name is empty")
	ErrInvalidTier       = errors.New("unknown vm tier")
	ErrInvalidStatus     = errors.New("status must be pending, approved or rejected")
	ErrInvalidTransition = errors.New("request is already being provisioned or created")
	ErrInvalidIP         = errors.New("invalid IPv4 address")
)
