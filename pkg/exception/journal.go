package exception

import "github.com/yanun0323/errors"

// Journal errors
var (
	ErrJournalInvalidMagic     = errors.New("journal: invalid magic")
	ErrJournalUnsupportedVer   = errors.New("journal: unsupported record version")
	ErrJournalInvalidHeader    = errors.New("journal: invalid header size")
	ErrJournalChecksumMismatch = errors.New("journal: checksum mismatch")
	ErrJournalPayloadTooLarge  = errors.New("journal: payload too large")
	ErrJournalClosed           = errors.New("journal: writer closed")
	ErrJournalNotStarted       = errors.New("journal: writer not started")
	ErrJournalAlreadyStarted   = errors.New("journal: writer already started")
)
