package logger

// RedactContact masks a contact identifier for safe logging, keeping only
// the trailing characters so entries stay correlatable.
// "+15551234567" → "***4567", "abc" → "***"
func RedactContact(id string) string {
	if len(id) <= 4 {
		return "***"
	}
	return "***" + id[len(id)-4:]
}
