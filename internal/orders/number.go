package orders

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

var numberPattern = regexp.MustCompile(`^ORD-\d{8}-[0-9A-F]{8}$`)

// NewOrderNumber returns ORD-<YYYYMMDD>-<8 upper hex>.
func NewOrderNumber(now time.Time) (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "ORD-" + now.UTC().Format("20060102") + "-" + strings.ToUpper(hex.EncodeToString(b[:])), nil
}

func ValidOrderNumber(s string) bool { return numberPattern.MatchString(s) }
