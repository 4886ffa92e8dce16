package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/mariiahub/booking-reconciliation/internal/apperr"
	"github.com/mariiahub/booking-reconciliation/internal/middleware"
	"github.com/mariiahub/booking-reconciliation/internal/services"
	"github.com/mariiahub/booking-reconciliation/internal/utils"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes caps request bodies read by the API and the webhook endpoint
const maxBodyBytes = 1 << 20

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

// respondError renders err as the API error envelope. Unclassified errors are
// logged here with their stack and reach the client as "internal error".
func respondError(c *gin.Context, logger *logrus.Logger, err error, fields logrus.Fields) {
	requestID := middleware.GetRequestID(c)

	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal(err, "unclassified error")
	}

	body := gin.H{
		"kind":      appErr.Kind,
		"message":   appErr.Message,
		"retryable": appErr.Kind.Retryable(),
		"requestId": requestID,
	}
	if appErr.Kind == apperr.KindInternal {
		body["message"] = "internal error"

		entry := logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"path":       c.FullPath(),
			"error":      apperr.Verbose(err),
		})
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		entry.Error("Request failed with internal error")
	} else if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}

	c.AbortWithStatusJSON(appErr.Kind.HTTPStatus(), gin.H{"error": body})
}

// bindJSON decodes the body strictly and runs the binding validation tags
func bindJSON(c *gin.Context, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInvalidRequest, "failed to read request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return apperr.New(apperr.KindInvalidRequest, "request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(err, apperr.KindInvalidRequest, "invalid request body: %s", err.Error())
	}
	if dec.More() {
		return apperr.New(apperr.KindInvalidRequest, "request body must contain a single JSON object")
	}

	if err := binding.Validator.ValidateStruct(dst); err != nil {
		return apperr.Wrap(err, apperr.KindInvalidRequest, "invalid request: %s", err.Error())
	}
	return nil
}

// requestMeta captures caller details for the payment audit trail
func requestMeta(c *gin.Context) *services.RequestMeta {
	return &services.RequestMeta{
		IPAddress: utils.GetRealIP(c),
		UserAgent: utils.GetUserAgent(c),
		RequestID: middleware.GetRequestID(c),
	}
}

// requireUser returns the authenticated user id or renders Unauthorized
func requireUser(c *gin.Context, logger *logrus.Logger) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		respondError(c, logger, apperr.New(apperr.KindUnauthorized, "user not authenticated"), nil)
		return "", false
	}
	return userID, true
}

// NoRoute renders unknown paths in the API error envelope
func NoRoute(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
		"kind":      apperr.KindNotFound,
		"message":   "route not found",
		"retryable": false,
		"requestId": middleware.GetRequestID(c),
	}})
}
