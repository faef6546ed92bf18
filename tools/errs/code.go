package errs

const (
	InvalidArgumentCode       = 1001
	NotFoundCode              = 1004
	InvalidRoleTransitionCode = 1009
	UnknownActionCode         = 1010
	TransportTimeoutCode      = 1408
	ConnectionLostCode        = 1499
	ServerInternalError       = 1500
)

var (
	ErrInvalidArgument       = NewCodeError(InvalidArgumentCode, "InvalidArgument")
	ErrNotFound              = NewCodeError(NotFoundCode, "NotFound")
	ErrInvalidRoleTransition = NewCodeError(InvalidRoleTransitionCode, "InvalidRoleTransition")
	ErrUnknownAction         = NewCodeError(UnknownActionCode, "UnknownAction")
	ErrTransportTimeout      = NewCodeError(TransportTimeoutCode, "TransportTimeout")
	ErrConnectionLost        = NewCodeError(ConnectionLostCode, "ConnectionLost")
	ErrInternal              = NewCodeError(ServerInternalError, "Internal")
)
