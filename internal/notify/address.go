package notify

import (
	"regexp"
	"strings"
)

// DefaultAddressDomain is the mailbox domain phone numbers are mapped onto.
const DefaultAddressDomain = "163.com"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// DeriveEmail maps a phone number onto its 163.com mailbox. A blank phone
// yields "".
func DeriveEmail(phone string) string {
	return DeriveEmailAt(phone, DefaultAddressDomain)
}

// DeriveEmailAt is DeriveEmail with an explicit mailbox domain.
func DeriveEmailAt(phone, domain string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	if domain == "" {
		domain = DefaultAddressDomain
	}
	return phone + "@" + domain
}

func IsValidEmail(addr string) bool {
	addr = strings.TrimSpace(addr)
	return addr != "" && emailPattern.MatchString(addr)
}
