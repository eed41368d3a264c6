package gate

// ValidationError is a client error for a submission that failed a field rule.
// Message is safe to return to the client.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	ErrMissingFields = &ValidationError{
		Rule:    "required",
		Message: "Name, email, and message are required",
	}
	ErrNameTooShort = &ValidationError{
		Rule:    "name_length",
		Message: "Name must be at least 2 characters",
	}
	ErrInvalidEmail = &ValidationError{
		Rule:    "email_format",
		Message: "Please provide a valid email address",
	}
	ErrMessageTooShort = &ValidationError{
		Rule:    "message_length",
		Message: "Message must be at least 10 characters",
	}
)
