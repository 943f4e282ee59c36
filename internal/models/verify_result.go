package models

// VerifyError is the typed failure reason surfaced to clients.
type VerifyError string

const (
	VerifyErrNoCodeFound         VerifyError = "no_code_found"
	VerifyErrCodeExpired         VerifyError = "code_expired"
	VerifyErrMaxAttemptsExceeded VerifyError = "max_attempts_exceeded"
	VerifyErrInvalidCode         VerifyError = "invalid_code"
	VerifyErrUnknown             VerifyError = "unknown"
)

// Terminal reports whether the enclosing flow has to start over.
func (e VerifyError) Terminal() bool {
	return e == VerifyErrMaxAttemptsExceeded || e == VerifyErrCodeExpired
}

type VerifyResult struct {
	Success           bool        `json:"success"`
	Error             VerifyError `json:"error,omitempty"`
	AttemptsRemaining *int        `json:"attemptsRemaining,omitempty"`
}

func VerifySuccess() VerifyResult {
	return VerifyResult{Success: true}
}

func VerifyFailure(reason VerifyError) VerifyResult {
	return VerifyResult{Error: reason}
}

func VerifyInvalid(remaining int) VerifyResult {
	return VerifyResult{Error: VerifyErrInvalidCode, AttemptsRemaining: &remaining}
}
