package errors

import "fmt"

var (
	ErrStoreUnavailable = fmt.Errorf("message store unavailable")
	ErrSendRejected     = fmt.Errorf("send rejected by store")
	ErrNoIdentity       = fmt.Errorf("no local user identity resolved")
	ErrMalformedRow     = fmt.Errorf("malformed store row")
	ErrUnknownMessage   = fmt.Errorf("message not found in local collection")
	ErrReadPending      = fmt.Errorf("read flags still unconfirmed")
	ErrHandleClosed     = fmt.Errorf("conversation handle closed")
	ErrWorkerPanic      = fmt.Errorf("worker panic")
)
