package purchase

import (
	"strings"

	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
)

var dialCodes = map[string]string{
	"KE": "254",
	"UG": "256",
	"TZ": "255",
	"RW": "250",
	"NG": "234",
	"GH": "233",
	"ZA": "27",
	"GB": "44",
	"US": "1",
}

// NormalizePhone returns phone as international digits without a leading
// '+'. Local numbers starting with 0, or short numbers without a country
// prefix, take the dial code of countryCode.
func NormalizePhone(phone, countryCode string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	if cleaned == "" {
		return "", svcerrors.Validation("phone", "phone is required")
	}

	dial := dialCodes[strings.ToUpper(strings.TrimSpace(countryCode))]
	switch {
	case strings.HasPrefix(cleaned, "+"):
		cleaned = cleaned[1:]
	case strings.HasPrefix(cleaned, "00"):
		cleaned = cleaned[2:]
	case strings.HasPrefix(cleaned, "0"):
		if dial == "" {
			return "", svcerrors.Validation("phone", "local number needs a supported country code")
		}
		cleaned = dial + cleaned[1:]
	case dial != "" && len(cleaned) <= 10 && !strings.HasPrefix(cleaned, dial):
		cleaned = dial + cleaned
	}

	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", svcerrors.Validation("phone", "phone must contain digits only")
		}
	}
	if len(cleaned) < 8 || len(cleaned) > 15 {
		return "", svcerrors.Validation("phone", "phone must have 8 to 15 digits")
	}
	return cleaned, nil
}
