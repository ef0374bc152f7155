package apperror

import "net/http"

// GenericError is the contract every typed error in this package honours.
// The rest layer maps ErrCode/StatusCode straight onto the JSON error
// envelope.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type AuthMissingError string

func (err AuthMissingError) Error() string   { return string(err) }
func (err AuthMissingError) ErrCode() string { return "MISSING_AUTHORIZATION" }
func (err AuthMissingError) StatusCode() int { return http.StatusUnauthorized }

type AuthInvalidKeyError string

func (err AuthInvalidKeyError) Error() string   { return string(err) }
func (err AuthInvalidKeyError) ErrCode() string { return "INVALID_API_KEY" }
func (err AuthInvalidKeyError) StatusCode() int { return http.StatusUnauthorized }

type AuthMissingTenantError string

func (err AuthMissingTenantError) Error() string   { return string(err) }
func (err AuthMissingTenantError) ErrCode() string { return "MISSING_TENANT" }
func (err AuthMissingTenantError) StatusCode() int { return http.StatusUnauthorized }

type AuthInvalidSignatureError string

func (err AuthInvalidSignatureError) Error() string   { return string(err) }
func (err AuthInvalidSignatureError) ErrCode() string { return "INVALID_SIGNATURE" }
func (err AuthInvalidSignatureError) StatusCode() int { return http.StatusUnauthorized }

type InvalidJSONError string

func (err InvalidJSONError) Error() string   { return string(err) }
func (err InvalidJSONError) ErrCode() string { return "INVALID_WEBHOOK_JSON" }
func (err InvalidJSONError) StatusCode() int { return http.StatusBadRequest }

type RateLimitedError string

func (err RateLimitedError) Error() string   { return string(err) }
func (err RateLimitedError) ErrCode() string { return "RATE_LIMITED" }
func (err RateLimitedError) StatusCode() int { return http.StatusTooManyRequests }

type NotFoundError string

func (err NotFoundError) Error() string   { return string(err) }
func (err NotFoundError) ErrCode() string { return "NOT_FOUND_ERROR" }
func (err NotFoundError) StatusCode() int { return http.StatusNotFound }

type ConflictError struct {
	Message          string
	ExistingTicketID string
}

func (err ConflictError) Error() string   { return err.Message }
func (err ConflictError) ErrCode() string { return "CONFLICT" }
func (err ConflictError) StatusCode() int { return http.StatusConflict }

type StorageDisabledError string

func (err StorageDisabledError) Error() string   { return string(err) }
func (err StorageDisabledError) ErrCode() string { return "STORAGE_DISABLED" }
func (err StorageDisabledError) StatusCode() int { return http.StatusServiceUnavailable }

type BrokerTimeoutError string

func (err BrokerTimeoutError) Error() string   { return string(err) }
func (err BrokerTimeoutError) ErrCode() string { return "BROKER_TIMEOUT" }
func (err BrokerTimeoutError) StatusCode() int { return http.StatusGatewayTimeout }

type MediaDownloadError string

func (err MediaDownloadError) Error() string   { return string(err) }
func (err MediaDownloadError) ErrCode() string { return "MEDIA_DOWNLOAD_FAILED" }
func (err MediaDownloadError) StatusCode() int { return http.StatusBadGateway }

type InternalServerError string

func (err InternalServerError) Error() string   { return string(err) }
func (err InternalServerError) ErrCode() string { return "INTERNAL_SERVER_ERROR" }
func (err InternalServerError) StatusCode() int { return http.StatusInternalServerError }
