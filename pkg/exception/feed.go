package exception

import "github.com/yanun0323/errors"

// Feed errors
var (
	ErrFeedDecode          = errors.New("feed: decode message")
	ErrFeedUnsupportedKind = errors.New("feed: unsupported stream kind")
	ErrFeedSubscribe       = errors.New("feed: subscribe rejected")
)
