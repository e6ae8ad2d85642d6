package media

import "errors"

var (
	// ErrAssetTooLarge indicates the payload exceeds the configured max asset size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrAssetReleased is returned when opening a staged asset after Release.
	ErrAssetReleased = errors.New("media asset already released")
)
