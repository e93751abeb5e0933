package exception

import "github.com/yanun0323/errors"

var (
	ErrStorage       = errors.New("storage: operation failed")
	ErrStorageClosed = errors.New("storage: closed")
	ErrNotFound      = errors.New("storage: record not found")
)

// Trade journal errors
var (
	ErrJournalFull       = errors.New("journal: queue full")
	ErrJournalClosed     = errors.New("journal: closed")
	ErrJournalNotStarted = errors.New("journal: not started")
	ErrJournalStarted    = errors.New("journal: already started")
	ErrJournalCorrupt    = errors.New("journal: corrupt record")
	ErrJournalChecksum   = errors.New("journal: checksum mismatch")
)
