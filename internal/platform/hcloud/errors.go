package hcloud

import (
	"errors"
	"net/http"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/appinit/internal/provider"
)

// errorCodeResourceInUse is returned while a firewall or volume is still
// attached to a server being deleted.
const errorCodeResourceInUse hcloud.ErrorCode = "resource_in_use"

// isResourceLocked checks if an error indicates a resource is busy.
// Locked resources typically occur while an action is still running or a
// volume is detaching from a deleted server. These errors are retryable.
func isResourceLocked(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeLocked,
		hcloud.ErrorCodeConflict,
		hcloud.ErrorCodeResourceLocked,
		hcloud.ErrorCodeResourceUnavailable,
		errorCodeResourceInUse,
	)
}

// isHCloudErrorCode checks if the error is an hcloud API error with one of the given codes.
func isHCloudErrorCode(err error, codes ...hcloud.ErrorCode) bool {
	if err == nil {
		return false
	}

	var hcloudErr hcloud.Error
	if errors.As(err, &hcloudErr) {
		for _, code := range codes {
			if hcloudErr.Code == code {
				return true
			}
		}
	}
	return false
}

// IsNotFound checks if an error indicates a resource was not found.
func IsNotFound(err error) bool {
	return isHCloudErrorCode(err, hcloud.ErrorCodeNotFound)
}

// statusFor maps an API error code to the HTTP status Hetzner answers it with.
func statusFor(code hcloud.ErrorCode) int {
	switch code {
	case hcloud.ErrorCodeNotFound:
		return http.StatusNotFound
	case hcloud.ErrorCodeUniquenessError, hcloud.ErrorCodeConflict, hcloud.ErrorCodeLocked, errorCodeResourceInUse:
		return http.StatusConflict
	case hcloud.ErrorCodeInvalidInput:
		return http.StatusBadRequest
	case hcloud.ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case hcloud.ErrorCodeForbidden:
		return http.StatusForbidden
	case hcloud.ErrorCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case hcloud.ErrorCodeResourceLimitExceeded:
		return http.StatusForbidden
	default:
		return 0
	}
}

// apiError converts err into a *provider.Error for op, keeping Hetzner's
// message and mapping its error code to a status.
func apiError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return pErr
	}
	var hcloudErr hcloud.Error
	if errors.As(err, &hcloudErr) {
		return &provider.Error{
			Op:         op,
			Message:    hcloudErr.Message,
			StatusCode: statusFor(hcloudErr.Code),
			NotFound:   hcloudErr.Code == hcloud.ErrorCodeNotFound,
			Err:        err,
		}
	}
	return provider.NewError(op, err)
}
