package link

import "errors"

var (
	ErrTransport         = errors.New("link: transport failure")
	ErrSyncTimeout       = errors.New("link: timed out waiting for next table entry")
	ErrShortFrame        = errors.New("link: frame too short")
	ErrUnexpectedCommand = errors.New("link: unexpected command during table update")
	ErrUnknownCommand    = errors.New("link: unknown command")
)
