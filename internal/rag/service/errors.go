package service

// ErrEmptySourceSet and ErrNoReadySources distinguish the two ways a query
// can have nothing to search: no source_ids at all supplied with none
// implied, vs. a non-empty set that resolves to zero READY sources.
var (
	ErrEmptySourceSet  = newServiceError("empty source set")
	ErrNoReadySources  = newServiceError("no ready sources for query")
)

type serviceError string

func (e serviceError) Error() string { return string(e) }

func newServiceError(msg string) error { return serviceError(msg) }

