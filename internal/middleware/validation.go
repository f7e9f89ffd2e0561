package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ValidationConfig bounds the request fields shared by the generation
// and routing endpoints.
type ValidationConfig struct {
	MaxBodySize      int64   // Maximum request body size in bytes
	MaxTokensLimit   int     // Maximum tokens that can be requested
	MinTemperature   float64 // Minimum temperature value
	MaxTemperature   float64 // Maximum temperature value
	MinTopP          float64 // Minimum top_p value
	MaxTopP          float64 // Maximum top_p value
	MaxStopSequences int     // Maximum number of stop sequences
	MaxMessagesCount int     // Maximum number of messages in a request
}

// DefaultValidationConfig returns sensible defaults for validation
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxBodySize:      10 * 1024 * 1024, // 10MB
		MaxTokensLimit:   32000,
		MinTemperature:   0.0,
		MaxTemperature:   2.0,
		MinTopP:          0.0,
		MaxTopP:          1.0,
		MaxStopSequences: 10,
		MaxMessagesCount: 100,
	}
}

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationErrors holds multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	var msgs []string
	for _, err := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(msgs, "; ")
}

// Add adds a validation error
func (e *ValidationErrors) Add(field, message string, value any) {
	e.Errors = append(e.Errors, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validator provides request validation middleware
type Validator struct {
	config ValidationConfig
}

// NewValidator creates a new validator with the given config
func NewValidator(config ValidationConfig) *Validator {
	return &Validator{config: config}
}

// NewDefaultValidator creates a validator with default configuration
func NewDefaultValidator() *Validator {
	return NewValidator(DefaultValidationConfig())
}

// BodySizeMiddleware validates request body size
func (v *Validator) BodySizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > v.config.MaxBodySize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("request body too large: %d bytes exceeds maximum %d bytes",
					c.Request.ContentLength, v.config.MaxBodySize),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// generationValidationRequest is the superset of the fields the
// generation and routing endpoints accept, used for pre-bind bounds
// checking only.
type generationValidationRequest struct {
	Messages      []messageValidation `json:"messages"`
	Model         string              `json:"model"`
	Temperature   *float64            `json:"temperature"`
	MaxTokens     *int                `json:"max_tokens"`
	TopP          *float64            `json:"top_p"`
	StopSequences []string            `json:"stop_sequences"`
}

type messageValidation struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidateGenerationMiddleware parses and bounds-checks a generation
// body before the handler binds it. The body is restored for the
// handler either way.
func (v *Validator) ValidateGenerationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		var req generationValidationRequest
		if err := json.Unmarshal(bodyBytes, &req); err != nil {
			var syntaxErr *json.SyntaxError
			var unmarshalErr *json.UnmarshalTypeError

			switch {
			case errors.As(err, &syntaxErr):
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("JSON syntax error at position %d", syntaxErr.Offset),
				})
			case errors.As(err, &unmarshalErr):
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("invalid type for field '%s': expected %s",
						unmarshalErr.Field, unmarshalErr.Type.String()),
				})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON format"})
			}
			c.Abort()
			return
		}

		validationErrors := v.validateGenerationRequest(&req)
		if validationErrors.HasErrors() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   validationErrors.Error(),
				"details": validationErrors.Errors,
			})
			c.Abort()
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		c.Next()
	}
}

// validateGenerationRequest bounds-checks the shared request fields.
func (v *Validator) validateGenerationRequest(req *generationValidationRequest) *ValidationErrors {
	errs := &ValidationErrors{}

	if len(req.Messages) == 0 {
		errs.Add("messages", "at least one message is required", nil)
	}
	if len(req.Messages) > v.config.MaxMessagesCount {
		errs.Add("messages", fmt.Sprintf("exceeds maximum of %d messages", v.config.MaxMessagesCount), len(req.Messages))
	}

	if req.Temperature != nil {
		if *req.Temperature < v.config.MinTemperature || *req.Temperature > v.config.MaxTemperature {
			errs.Add("temperature", fmt.Sprintf("must be between %.1f and %.1f", v.config.MinTemperature, v.config.MaxTemperature), *req.Temperature)
		}
	}

	if req.MaxTokens != nil {
		if *req.MaxTokens <= 0 {
			errs.Add("max_tokens", "must be a positive integer", *req.MaxTokens)
		}
		if *req.MaxTokens > v.config.MaxTokensLimit {
			errs.Add("max_tokens", fmt.Sprintf("exceeds maximum of %d", v.config.MaxTokensLimit), *req.MaxTokens)
		}
	}

	if req.TopP != nil {
		if *req.TopP < v.config.MinTopP || *req.TopP > v.config.MaxTopP {
			errs.Add("top_p", fmt.Sprintf("must be between %.1f and %.1f", v.config.MinTopP, v.config.MaxTopP), *req.TopP)
		}
	}

	if len(req.StopSequences) > v.config.MaxStopSequences {
		errs.Add("stop_sequences", fmt.Sprintf("exceeds maximum of %d stop sequences", v.config.MaxStopSequences), len(req.StopSequences))
	}

	validRoles := map[string]bool{"system": true, "user": true, "assistant": true}
	for i, msg := range req.Messages {
		if msg.Role == "" {
			errs.Add(fmt.Sprintf("messages[%d].role", i), "role is required", nil)
		} else if !validRoles[msg.Role] {
			errs.Add(fmt.Sprintf("messages[%d].role", i), fmt.Sprintf("invalid role '%s', must be one of: system, user, assistant", msg.Role), msg.Role)
		}
		if msg.Content == "" && msg.Role != "assistant" {
			errs.Add(fmt.Sprintf("messages[%d].content", i), "content is required for non-assistant messages", nil)
		}
	}

	return errs
}

// RequireContentType requires one of the given content types on
// body-carrying requests.
func RequireContentType(contentTypes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ct := c.ContentType()

		if ct == "" && (c.Request.Method == http.MethodGet || c.Request.Method == http.MethodDelete) {
			c.Next()
			return
		}

		for _, allowed := range contentTypes {
			if ct == allowed {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error": fmt.Sprintf("unsupported content type '%s'", ct),
		})
		c.Abort()
	}
}
