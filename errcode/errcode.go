package errcode

// Code is a stable result identifier shared by the PSCI and MU surfaces.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// PSCI
	InvalidParams   Code = "invalid_params"
	NotSupported    Code = "not_supported"
	Denied          Code = "denied"
	AlreadyOn       Code = "already_on"
	InternalFailure Code = "internal_failure"

	// Messaging / TEE
	BadParameters  Code = "bad_parameters"
	BadFormat      Code = "bad_format"
	NoData         Code = "no_data"
	Busy           Code = "busy"
	NotImplemented Code = "not_implemented"

	// Bounded waits
	Timeout Code = "timeout"

	Error Code = "error" // generic fallback
)

// PSCI return values as placed in r0 by the monitor.
const (
	psciSuccess         int32 = 0
	psciNotSupported    int32 = -1
	psciInvalidParams   int32 = -2
	psciDenied          int32 = -3
	psciAlreadyOn       int32 = -4
	psciInternalFailure int32 = -6
)

// TEE_Result values (GlobalPlatform TEE internal API).
const (
	teeSuccess        uint32 = 0x00000000
	teeGeneric        uint32 = 0xFFFF0000
	teeBadFormat      uint32 = 0xFFFF0005
	teeBadParameters  uint32 = 0xFFFF0006
	teeNotImplemented uint32 = 0xFFFF0009
	teeNotSupported   uint32 = 0xFFFF000A
	teeNoData         uint32 = 0xFFFF000B
	teeBusy           uint32 = 0xFFFF000D
	teeTimeout        uint32 = 0xFFFF3001
)

// PSCI maps c onto the PSCI return-code space. Codes without a PSCI
// equivalent map to INTERNAL_FAILURE.
func (c Code) PSCI() int32 {
	switch c {
	case OK:
		return psciSuccess
	case NotSupported:
		return psciNotSupported
	case InvalidParams:
		return psciInvalidParams
	case Denied:
		return psciDenied
	case AlreadyOn:
		return psciAlreadyOn
	default:
		return psciInternalFailure
	}
}

// TEE maps c onto TEE_Result.
func (c Code) TEE() uint32 {
	switch c {
	case OK:
		return teeSuccess
	case BadFormat:
		return teeBadFormat
	case BadParameters, InvalidParams:
		return teeBadParameters
	case NotImplemented:
		return teeNotImplemented
	case NotSupported:
		return teeNotSupported
	case NoData:
		return teeNoData
	case Busy:
		return teeBusy
	case Timeout:
		return teeTimeout
	default:
		return teeGeneric
	}
}

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += " (" + e.Err.Error() + ")"
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap builds an *E carrying c with cause err.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
