package retention

import "errors"

var (
	ErrNotFound         = errors.New("retention record not found")
	ErrActionNotFound   = errors.New("retention action not found")
	ErrPolicyNotFound   = errors.New("no active retention policy for data type")
	ErrApprovalRequired = errors.New("retention action requires an approver")
	ErrInvalidPolicy    = errors.New("invalid retention policy")
)
