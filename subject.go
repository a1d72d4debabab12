package sitegen

import "fmt"

// MaxSubjectLength is the longest accepted subject identifier in bytes.
const MaxSubjectLength = 64

var subjectChars [128]bool

func init() {
	for _, c := range "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-:.@" {
		subjectChars[c] = true
	}
}

// ValidateSubject checks that id is a usable subject key: non-empty, at most
// MaxSubjectLength bytes, ASCII alphanumerics plus _ - : . @ only.
func ValidateSubject(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSubject)
	}
	if len(id) > MaxSubjectLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidSubject, len(id), MaxSubjectLength)
	}
	for i, r := range id {
		if r >= 128 || !subjectChars[r] {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidSubject, r, i)
		}
	}
	return nil
}
