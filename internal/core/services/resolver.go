package services

import (
	"fmt"
	"net/url"
	"regexp"

	"relaycast/pkg/errors"
)

// Shared-drive link shapes accepted for download, tried in order. The first
// pattern that matches wins.
var driveIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/open\?id=([\w-]+)`),
	regexp.MustCompile(`/file/d/([\w-]+)`),
	regexp.MustCompile(`/uc\?id=([\w-]+)`),
}

// canonicalDrivePattern re-validates the normalized locator; anything that
// fails it never reaches the download step.
var canonicalDrivePattern = regexp.MustCompile(`^https://drive\.google\.com/uc\?id=[\w-]+$`)

// ResolveDriveURL normalizes a shared-drive link into the canonical
// `https://drive.google.com/uc?id=<ID>` form. Unrecognized shapes fail with
// a validation error.
func ResolveDriveURL(raw string) (string, error) {
	id := extractFileID(raw)
	if id == "" {
		return "", errors.NewValidationError("invalid drive URL format")
	}

	canonical := fmt.Sprintf("https://drive.google.com/uc?id=%s", id)
	if !canonicalDrivePattern.MatchString(canonical) {
		return "", errors.NewValidationError("drive URL did not normalize to canonical form")
	}
	return canonical, nil
}

func extractFileID(raw string) string {
	for _, pattern := range driveIDPatterns {
		if m := pattern.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	}

	// Fall back to a generic id query parameter.
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("id")
}
