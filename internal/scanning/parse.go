package scanning

import (
	"regexp"
	"strconv"
	"strings"
)

// RecipientNotFound is the sentinel recipient for replies without a usable Recipient marker.
// It is never persisted; callers translate it to an empty editable field.
const RecipientNotFound = "Not found"

var (
	amountPattern    = regexp.MustCompile(`Amount: ([\d,]+)`)
	recipientPattern = regexp.MustCompile(`Recipient: ([^,]+)`)
)

// Analysis is the structured form of a model reply
type Analysis struct {
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
}

// ParseReply extracts the amount and recipient from a model reply of the form
// "Amount: 50,000, Recipient: Nguyen Van A". It never fails: a missing amount is 0 and a
// missing recipient is RecipientNotFound.
func ParseReply(text string) Analysis {
	result := Analysis{Recipient: RecipientNotFound}

	if m := amountPattern.FindStringSubmatch(text); m != nil {
		raw := strings.ReplaceAll(m[1], ",", "")
		if amount, err := strconv.ParseInt(raw, 10, 64); err == nil {
			result.Amount = NormalizeAmount(amount)
		}
	}

	if m := recipientPattern.FindStringSubmatch(text); m != nil {
		if recipient := strings.TrimSpace(m[1]); recipient != "" {
			result.Recipient = recipient
		}
	}

	return result
}

// NormalizeAmount corrects the magnitude of a VND amount read by the model.
// Spoken and handwritten amounts usually drop the trailing thousands, so values below
// 10,000 (both the "500" and the "5,000" forms) are scaled by 1000. This is a heuristic:
// 500 may really mean 500.
func NormalizeAmount(amount int64) int64 {
	if amount > 0 && amount < 10000 {
		return amount * 1000
	}
	return amount
}
