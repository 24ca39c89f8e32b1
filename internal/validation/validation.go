package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"wagate/internal/constants"
	"wagate/internal/errors"
)

// NormalizePhoneNumber reduces a protocol address to canonical digits-only
// form. Strips any @domain suffix ("5511999999999@s.whatsapp.net" ->
// "5511999999999") and every non-digit character.
func NormalizePhoneNumber(phone string) string {
	p := strings.TrimSpace(phone)
	if at := strings.IndexByte(p, '@'); at != -1 {
		p = p[:at]
	}
	var b strings.Builder
	for _, r := range p {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidatePhoneNumber validates phone number format and length
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.New(errors.ErrCodeValidation, "phone number cannot be empty")
	}

	cleaned := strings.TrimPrefix(phone, "+")
	if at := strings.IndexByte(cleaned, '@'); at != -1 {
		cleaned = cleaned[:at]
	}

	if len(cleaned) < constants.MinPhoneNumberLength {
		return errors.New(errors.ErrCodeValidation,
			fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}
	if len(cleaned) > constants.MaxPhoneNumberLength {
		return errors.New(errors.ErrCodeValidation,
			fmt.Sprintf("phone number too long (max %d digits)", constants.MaxPhoneNumberLength))
	}

	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeValidation, "phone number must contain only digits")
		}
	}

	return nil
}

// ValidateWebhookURL validates a webhook target URL. HTTPS is required when
// production is true; plain HTTP is tolerated in development.
func ValidateWebhookURL(rawURL string, production bool) error {
	if rawURL == "" {
		return errors.New(errors.ErrCodeValidation, "webhook URL cannot be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "webhook URL is not a valid URL")
	}
	if parsed.Host == "" {
		return errors.New(errors.ErrCodeValidation, "webhook URL must include a host")
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if production {
			return errors.New(errors.ErrCodeValidation, "webhook URL must use HTTPS in production")
		}
		return nil
	default:
		return errors.New(errors.ErrCodeValidation,
			fmt.Sprintf("unsupported webhook URL scheme %q", parsed.Scheme))
	}
}

// ValidateMessageID validates protocol message ID format and length
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeValidation, "message ID cannot be empty")
	}
	if len(messageID) > constants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeValidation,
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}
	for _, char := range messageID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeValidation, "message ID contains invalid characters")
		}
	}
	return nil
}
