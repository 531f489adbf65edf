// Package validation checks request input before it reaches the stores.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

var (
	slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)
	// Discord snowflakes are 17 to 20 decimal digits.
	discordIDRegex = regexp.MustCompile(`^[0-9]{17,20}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidSlug checks a gang slug: 3-64 lowercase alphanumerics or hyphens,
// starting and ending with an alphanumeric.
func IsValidSlug(s string) bool {
	return slugRegex.MatchString(s)
}

// IsValidDiscordID checks that s looks like a Discord user ID.
func IsValidDiscordID(s string) bool {
	return discordIDRegex.MatchString(s)
}

// SanitizeString trims whitespace, strips null bytes and caps the length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs every validator and collects the failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Slug checks a slug field; empty values are left to Required.
func Slug(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value != "" && !IsValidSlug(value) {
			return &ValidationError{Field: field, Message: "must be 3-64 lowercase letters, digits or hyphens"}
		}
		return nil
	}
}

// DiscordID checks a Discord user ID field; empty values are left to Required.
func DiscordID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value != "" && !IsValidDiscordID(value) {
			return &ValidationError{Field: field, Message: "must be a Discord user ID"}
		}
		return nil
	}
}

// Abort writes a 400 with the collected errors.
func Abort(c *gin.Context, errs ValidationErrors) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "validation_failed",
		"message": errs.Error(),
		"fields":  errs,
	})
}
