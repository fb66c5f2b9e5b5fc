package journal

import "errors"

var (
	ErrOpenLog        = errors.New("journal: open log file")
	ErrStatLog        = errors.New("journal: stat log file")
	ErrReadLog        = errors.New("journal: read log file")
	ErrWriteLog       = errors.New("journal: write log file")
	ErrSyncLog        = errors.New("journal: sync log file")
	ErrTruncateLog    = errors.New("journal: truncate log file")
	ErrCloseLog       = errors.New("journal: close log file")
	ErrTxAlreadyOpen  = errors.New("journal: transaction already open")
	ErrNoTx           = errors.New("journal: no open transaction")
	ErrChecksumFailed = errors.New("journal: record checksum mismatch during replay")
)
