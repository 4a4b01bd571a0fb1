package image

import "errors"

// Sentinel errors for image cache operations.
var (
	ErrHashMismatch  = errors.New("downloaded image hash does not match declared image id")
	ErrTooLarge      = errors.New("image exceeds configured size limit")
	ErrDeploymentNotFound = errors.New("no deployment record found for image id")
	ErrDownloadFailed = errors.New("image download failed")
)
