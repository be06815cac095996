// Package intel extracts structured intelligence from remote caller
// transcripts: payment handles, phone numbers, identity numbers, bank
// mentions, claimed names and organizations, and the likely fraud
// category of the conversation.
package intel

import (
	"regexp"
	"strings"
)

// Field names for extracted items.
const (
	FieldUPIID       = "upi_id"
	FieldPhoneNumber = "phone_number"
	FieldAccount     = "account_number"
	FieldAadhaar     = "aadhaar_number"
	FieldBank        = "bank_mentioned"
	FieldScamType    = "scam_type"
	FieldCallerName  = "caller_name"
	FieldOrg         = "organization_claimed"
)

// Item is a single extracted intelligence finding.
type Item struct {
	Field      string  `json:"field_name"`
	Value      string  `json:"field_value"`
	Confidence float64 `json:"confidence"`
}

// Known bank and payment-app keywords.
var banks = []string{
	"sbi", "state bank", "hdfc", "icici", "axis", "kotak", "pnb",
	"punjab national", "canara", "bob", "bank of baroda", "union bank",
	"indian bank", "central bank", "uco", "idbi", "yes bank", "bandhan",
	"rbl", "federal bank", "indusind", "paytm", "phonepe", "gpay",
	"google pay", "amazon pay", "bhim",
}

// scamCategory maps a fraud category to its trigger keywords. Evaluated in
// order so more specific categories win over broad ones.
type scamCategory struct {
	name     string
	keywords []string
}

var scamCategories = []scamCategory{
	{"KYC Fraud", []string{"kyc", "verify", "verification", "update kyc", "kyc update", "link aadhaar"}},
	{"Lottery/Prize", []string{"lottery", "prize", "winner", "jackpot", "lucky draw", "congrat"}},
	{"Bank Impersonation", []string{"bank manager", "bank officer", "account block", "account freeze", "suspend"}},
	{"Tech Support", []string{"computer", "virus", "microsoft", "windows", "antivirus", "remote access"}},
	{"Insurance Fraud", []string{"insurance", "policy", "premium", "maturity", "lic", "claim"}},
	{"Refund Scam", []string{"refund", "cashback", "return amount", "overpaid"}},
	{"OTP Fraud", []string{"otp", "one time password", "verification code", "pin number"}},
	{"UPI Fraud", []string{"upi", "google pay", "phonepe", "paytm", "send money", "request money"}},
}

var (
	upiPattern     = regexp.MustCompile(`[a-zA-Z0-9._-]+@[a-zA-Z]{2,}`)
	phonePattern   = regexp.MustCompile(`(?:\+91[\s-]?)?[6-9]\d{4}[\s-]?\d{5}`)
	accountPattern = regexp.MustCompile(`\b\d{10,18}\b`)
	aadhaarPattern = regexp.MustCompile(`\b\d{4}\s?\d{4}\s?\d{4}\b`)
	separators     = regexp.MustCompile(`[\s-]`)

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:my name is|mera naam|i am|main|mai)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
		regexp.MustCompile(`(?i)(?:my name is|mera naam|i am|main|mai)\s+([a-zA-Z]+(?:\s+[a-zA-Z]+)?)`),
	}

	orgPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:i am|main|mai|hum)\s+(?:from|se)\s+(.+?)(?:\s+(?:bol|call|speak|baat)|\.|,|$)`),
		regexp.MustCompile(`(?i)(?:calling from|from)\s+(.+?)(?:\s+(?:regarding|about|ke|ka)|\.|,|$)`),
		regexp.MustCompile(`(?i)(?:this is|ye)\s+(.+?)(?:\s+(?:helpline|customer|service|support))`),
	}
)

// Email-provider suffixes excluded from UPI matching.
var emailDomains = []string{"@gmail", "@yahoo", "@hotmail", "@outlook"}

// Name matches that are sentence fragments, not names.
var nameStopwords = map[string]bool{
	"calling": true, "from": true, "here": true, "sir": true,
	"madam": true, "hai": true, "hoon": true, "hu": true,
}

// Org matches that are pronouns, not organizations.
var orgStopwords = map[string]bool{
	"the": true, "your": true, "aap": true, "tum": true,
}

// Extract scans a single utterance for intelligence items. It returns at
// most one bank, scam type, name, and organization per call but every
// distinct identifier found.
func Extract(text string) []Item {
	if text == "" {
		return nil
	}

	var results []Item
	lower := strings.ToLower(text)

	for _, upi := range upiPattern.FindAllString(text, -1) {
		if isEmailLike(upi) {
			continue
		}
		results = append(results, Item{FieldUPIID, upi, 0.8})
	}

	for _, phone := range phonePattern.FindAllString(text, -1) {
		clean := separators.ReplaceAllString(phone, "")
		if len(clean) >= 10 {
			results = append(results, Item{FieldPhoneNumber, clean, 0.7})
		}
	}

	for _, acct := range accountPattern.FindAllString(text, -1) {
		results = append(results, Item{FieldAccount, acct, 0.6})
	}

	for _, a := range aadhaarPattern.FindAllString(text, -1) {
		clean := strings.ReplaceAll(a, " ", "")
		if len(clean) == 12 {
			results = append(results, Item{FieldAadhaar, clean, 0.7})
		}
	}

	for _, bank := range banks {
		if strings.Contains(lower, bank) {
			results = append(results, Item{FieldBank, strings.ToUpper(bank), 0.7})
			break
		}
	}

	for _, cat := range scamCategories {
		if containsAny(lower, cat.keywords) {
			results = append(results, Item{FieldScamType, cat.name, 0.7})
			break
		}
	}

	for _, pat := range namePatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		if !nameStopwords[strings.ToLower(name)] {
			results = append(results, Item{FieldCallerName, name, 0.6})
			break
		}
	}

	for _, pat := range orgPatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		org := strings.TrimSpace(m[1])
		if len(org) > 2 && !orgStopwords[strings.ToLower(org)] {
			results = append(results, Item{FieldOrg, org, 0.6})
			break
		}
	}

	return results
}

func isEmailLike(handle string) bool {
	for _, domain := range emailDomains {
		if strings.HasSuffix(handle, domain) {
			return true
		}
	}
	return false
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
