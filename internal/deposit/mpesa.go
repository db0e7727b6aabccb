package deposit

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

const (
	ChannelTill      = "till"
	ChannelPaybill   = "paybill"
	ChannelSendMoney = "send_money"
)

type MpesaMeta struct {
	Currency string `json:"currency"`
	Payee    string `json:"payee,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

type MpesaMessage struct {
	Amount decimal.Decimal `json:"amount"`
	Ref    string          `json:"ref"`
	Meta   MpesaMeta       `json:"meta"`
}

var (
	refPattern    = regexp.MustCompile(`\b[A-Z0-9]{10,12}\b`)
	amountPattern = regexp.MustCompile(`(?i)\b(?:ksh|kes)\.?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	payeePattern  = regexp.MustCompile(`(?i)\b(?:sent|paid)?\s*to\s+(.+)`)
	balanceWord   = regexp.MustCompile(`(?i)balance`)
)

const balanceWindow = 40

// ParseMpesaText pulls the amount and transaction reference out of a pasted
// M-Pesa confirmation. It returns nil when either is missing.
func ParseMpesaText(raw string) *MpesaMessage {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}

	ref := findRef(text)
	amount, ok := findAmount(text)
	if ref == "" || !ok {
		return nil
	}

	channel, payee := inferChannel(text)
	return &MpesaMessage{
		Amount: amount,
		Ref:    ref,
		Meta:   MpesaMeta{Currency: "KES", Payee: payee, Channel: channel},
	}
}

// A reference mixes letters and digits; this keeps plain uppercase words and
// phone numbers out.
func findRef(text string) string {
	for _, token := range refPattern.FindAllString(text, -1) {
		var letter, digit bool
		for _, r := range token {
			if unicode.IsLetter(r) {
				letter = true
			} else if unicode.IsDigit(r) {
				digit = true
			}
		}
		if letter && digit {
			return token
		}
	}
	return ""
}

func findAmount(text string) (decimal.Decimal, bool) {
	matches := amountPattern.FindAllStringSubmatchIndex(text, -1)

	var fallback *decimal.Decimal
	for _, m := range matches {
		value, err := decimal.NewFromString(strings.ReplaceAll(text[m[2]:m[3]], ",", ""))
		if err != nil {
			continue
		}
		// Offsets index text itself; a lowercased copy can be shorter.
		start := max(0, m[0]-balanceWindow)
		end := min(len(text), m[1]+balanceWindow)
		if !balanceWord.MatchString(text[start:end]) {
			return value, true
		}
		if fallback == nil {
			fallback = &value
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return decimal.Decimal{}, false
}

func inferChannel(text string) (string, string) {
	lower := strings.ToLower(text)
	payee := findPayee(text)
	switch {
	case strings.Contains(lower, "till") || strings.Contains(lower, "paid to"):
		return ChannelTill, payee
	case strings.Contains(lower, "pay bill") || strings.Contains(lower, "paybill") || strings.Contains(lower, "for account"):
		return ChannelPaybill, payee
	case payee != "":
		return ChannelSendMoney, payee
	}
	return "", ""
}

// findPayee reads the capitalised words after "to" and stops at the first
// number, date word or sentence end.
func findPayee(text string) string {
	m := payeePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}

	var words []string
	for _, word := range strings.Fields(m[1]) {
		lw := strings.ToLower(word)
		if lw == "on" || lw == "for" || lw == "at" || lw == "account" {
			break
		}
		if strings.IndexFunc(word, unicode.IsDigit) >= 0 {
			break
		}
		trimmed := strings.TrimRight(word, ".,;")
		if trimmed != "" {
			words = append(words, trimmed)
		}
		if trimmed != word {
			break
		}
	}
	return strings.Join(words, " ")
}
