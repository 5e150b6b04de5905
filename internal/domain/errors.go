package domain

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotFound          Error = "not found"
	ErrInvalidURL        Error = "invalid post url"
	ErrDuplicateLink     Error = "link already saved"
	ErrMissingCredential Error = "no api credential configured"
	ErrInvalidCredential Error = "api credential rejected"
	ErrPostNotFound      Error = "post not found"
	ErrUpstream          Error = "upstream request failed"
	ErrUnresolvable      Error = "media has no displayable url"
)
