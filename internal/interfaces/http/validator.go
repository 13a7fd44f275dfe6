package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxSettingKeyLength  = 64
	MaxSettingValLength  = 50000 // system prompts live in agent settings
	MaxTemplateNameLen   = 512
	MaxTemplateBodyLen   = 1024
	MaxKnowledgeBodyLen  = 100000
	MaxTemplateParamsLen = 20
)

var (
	settingKeyRe   = regexp.MustCompile(`^[a-z0-9_]+$`)
	templateNameRe = regexp.MustCompile(`^[a-z0-9_]+$`)
	phoneRe        = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
)

// ValidSettingKey checks if a setting key is safe
func ValidSettingKey(s string) bool {
	return s != "" && len(s) <= MaxSettingKeyLength && settingKeyRe.MatchString(s)
}

// ValidTemplateName follows the Cloud API naming rule: lowercase, digits and underscore.
func ValidTemplateName(s string) bool {
	return s != "" && len(s) <= MaxTemplateNameLen && templateNameRe.MatchString(s)
}

func ValidPhone(s string) bool {
	return phoneRe.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}

// ValidateLength checks rune length is within bounds
func ValidateLength(s string, min, max int) bool {
	l := utf8.RuneCountInString(s)
	return l >= min && l <= max
}
