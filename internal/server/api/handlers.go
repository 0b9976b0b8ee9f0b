package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"lockbox/internal/server/service"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether the metadata store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the lockbox API.
type Handler struct {
	svc    *service.UploadService
	health HealthChecker
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.UploadService, health HealthChecker) *Handler {
	return &Handler{svc: svc, health: health}
}

// StatsResponse is the body of GET /stats. Uploads and Bytes count what is
// stored now; the Total fields never decrease.
type StatsResponse struct {
	Uploads        int64 `json:"uploads"`
	Bytes          int64 `json:"bytes"`
	TotalUploads   int64 `json:"totalUploads"`
	TotalBytes     int64 `json:"totalBytes"`
	TotalDownloads int64 `json:"totalDownloads"`
}

// HandleUpload handles POST /upload.
// The multipart "file" field is streamed straight into storage; query
// parameters encrypt, expiry_hours and expiry_downloads control handling.
func (h *Handler) HandleUpload(c echo.Context) error {
	encrypt, err := parseBool(c.QueryParam("encrypt"))
	if err != nil {
		return validationError(c, "encrypt must be true or false")
	}
	expiryHours, err := parseLimit(c.QueryParam("expiry_hours"))
	if err != nil {
		return validationError(c, "expiry_hours must be a non-negative integer")
	}
	expiryDownloads, err := parseLimit(c.QueryParam("expiry_downloads"))
	if err != nil {
		return validationError(c, "expiry_downloads must be a non-negative integer")
	}
	// Reject before touching the body.
	if expiryHours != nil && expiryDownloads != nil {
		return mapServiceError(c, service.ErrBothExpirations)
	}

	mr, err := c.Request().MultipartReader()
	if err != nil {
		return validationError(c, "request body must be multipart/form-data")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return mapServiceError(c, fmt.Errorf("failed to read multipart body: %w", err))
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		defer part.Close()

		result, err := h.svc.Upload(c.Request().Context(), service.UploadRequest{
			FileName:        rawFileName(part),
			Body:            part,
			Encrypt:         encrypt,
			ExpiryHours:     expiryHours,
			ExpiryDownloads: expiryDownloads,
		})
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusCreated, result)
	}

	return mapServiceError(c, service.ErrEmptyUpload)
}

// HandleDownload handles GET /download/:id.
// Serves the plaintext as an attachment. Encrypted uploads need the "key" query param.
func (h *Handler) HandleDownload(c echo.Context) error {
	dl, err := h.svc.Download(c.Request().Context(), c.Param("id"), c.QueryParam("key"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer dl.Body.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, dl.FileName))
	return c.Stream(http.StatusOK, echo.MIMEOctetStream, dl.Body)
}

// HandleInfo handles GET /info/:id.
// Returns upload metadata without serving the file.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.svc.Info(c.Request().Context(), c.Param("id"), c.QueryParam("key"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDelete handles DELETE /delete/:id?key=<deleteKey>.
func (h *Handler) HandleDelete(c echo.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		return validationError(c, "key is required")
	}

	if err := h.svc.Delete(c.Request().Context(), c.Param("id"), key); err != nil {
		return mapServiceError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.health.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, fmt.Errorf("failed to retrieve stats: %w", err))
	}

	return c.JSON(http.StatusOK, StatsResponse{
		Uploads:        stats.ActiveUploads,
		Bytes:          stats.ActiveBytes,
		TotalUploads:   stats.FilesUploaded,
		TotalBytes:     stats.BytesUploaded,
		TotalDownloads: stats.TotalDownloads,
	})
}

// rawFileName returns the client's filename parameter as sent.
// multipart.Part.FileName strips directories, which would alter the name.
func rawFileName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// parseLimit parses an optional non-negative limit that fits in an int32.
func parseLimit(v string) (*int32, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(v, 10, 31)
	if err != nil {
		return nil, err
	}
	limit := int32(n)
	return &limit, nil
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
}

// Error codes returned in errorBody.ErrorCode.
const (
	CodeEmptyUpload          = "empty-upload"
	CodeInvalidFileName      = "invalid-file-name"
	CodeBothExpirations      = "both-expirations"
	CodeValidation           = "validation"
	CodeUploadNotFound       = "upload-not-found"
	CodeUploadExpired        = "upload-expired"
	CodeMissingKey           = "missing-key"
	CodeInvalidDecryptionKey = "invalid-decryption-key"
	CodeInvalidDeleteKey     = "invalid-delete-key"
	CodeCorruptedUpload      = "corrupted-upload"
	CodeFileBlacklisted      = "file-blacklisted"
	CodeFileTooLarge         = "file-too-large"
	CodeRateLimited          = "rate-limited"
	CodeOther                = "other"
)

var serviceErrors = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrEmptyUpload, http.StatusBadRequest, CodeEmptyUpload},
	{service.ErrInvalidFileName, http.StatusBadRequest, CodeInvalidFileName},
	{service.ErrBothExpirations, http.StatusBadRequest, CodeBothExpirations},
	{service.ErrInvalidExpiry, http.StatusBadRequest, CodeValidation},
	{service.ErrUploadNotFound, http.StatusNotFound, CodeUploadNotFound},
	{service.ErrUploadExpired, http.StatusGone, CodeUploadExpired},
	{service.ErrMissingKey, http.StatusUnauthorized, CodeMissingKey},
	{service.ErrInvalidDecryptionKey, http.StatusForbidden, CodeInvalidDecryptionKey},
	{service.ErrInvalidDeleteKey, http.StatusForbidden, CodeInvalidDeleteKey},
	{service.ErrCorruptedUpload, http.StatusInternalServerError, CodeCorruptedUpload},
	{service.ErrFileBlacklisted, http.StatusForbidden, CodeFileBlacklisted},
}

// mapServiceError translates service-layer errors into HTTP responses.
// Anything unclassified is logged with the request ID and reported as an
// opaque internal error.
func mapServiceError(c echo.Context, err error) error {
	for _, e := range serviceErrors {
		if errors.Is(err, e.err) {
			if e.status >= http.StatusInternalServerError {
				logInternal(c, err)
			}
			return c.JSON(e.status, errorBody{ErrorCode: e.code, Error: e.err.Error()})
		}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
		return c.JSON(he.Code, errorBody{ErrorCode: CodeFileTooLarge, Error: "file exceeds maximum allowed size"})
	}

	logInternal(c, err)
	return c.JSON(http.StatusInternalServerError, errorBody{
		ErrorCode: CodeOther,
		Error:     "something went wrong on our side, please try again later",
	})
}

// ErrorHandler renders errors raised outside the handlers, such as unknown
// routes or the body limit, in the same shape as handler errors.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
		if he.Code == http.StatusRequestEntityTooLarge {
			_ = mapServiceError(c, err)
			return
		}
		_ = c.JSON(he.Code, errorBody{ErrorCode: CodeValidation, Error: fmt.Sprint(he.Message)})
		return
	}

	_ = mapServiceError(c, err)
}

func validationError(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{ErrorCode: CodeValidation, Error: msg})
}
