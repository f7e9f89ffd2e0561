package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/llm"
)

// writeProviderError translates a routing-layer failure into an HTTP
// response. The payload always carries "error"; provider errors add
// "kind" and, when known, "provider" so clients can tell a vendor
// outage from a request problem without parsing the message.
func writeProviderError(c *gin.Context, log *logrus.Logger, err error) {
	status := statusForError(err)

	payload := gin.H{"error": err.Error()}
	if pe, ok := llm.AsProviderError(err); ok {
		payload["kind"] = pe.Kind.String()
		if pe.Provider != "" {
			payload["provider"] = pe.Provider
		}
		if pe.Kind == llm.KindRateLimit && pe.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(pe.RetryAfter.Seconds())))
		}
	}

	entry := log.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("Generation request failed")
	} else {
		entry.Warn("Generation request rejected")
	}

	c.JSON(status, payload)
}

// statusForError maps the error taxonomy onto status codes. Upstream
// failures surface as 5xx even when the vendor answered 4xx, because
// from the caller's point of view this service is the gateway.
func statusForError(err error) int {
	switch {
	case errors.Is(err, llm.ErrNoProvidersConfigured) || errors.Is(err, llm.ErrNoProvidersAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, llm.ErrNoEligibleProviders):
		return http.StatusUnprocessableEntity
	}

	pe, ok := llm.AsProviderError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch pe.Kind {
	case llm.KindAuthentication:
		// The upstream credential is ours, not the caller's.
		return http.StatusBadGateway
	case llm.KindRateLimit:
		return http.StatusTooManyRequests
	case llm.KindUnavailable:
		return http.StatusServiceUnavailable
	case llm.KindGeneration:
		return http.StatusBadGateway
	}

	if strings.Contains(pe.Message, "not found") {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
