package config

import (
	"fmt"
	"strings"
)

const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

func NormalizeLogFormat(raw string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(raw))
	if format == "" {
		format = LogFormatJSON
	}
	switch format {
	case LogFormatJSON, LogFormatText:
		return format, nil
	case "logfmt", "console":
		return LogFormatText, nil
	default:
		return "", fmt.Errorf(
			"invalid log format %q (expected %s|%s|logfmt|console)",
			raw,
			LogFormatJSON,
			LogFormatText,
		)
	}
}
