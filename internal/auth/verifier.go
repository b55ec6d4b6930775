package auth

// Verifier checks a bearer token against a configured set of admin token
// hashes. Holding more than one hash lets an operator rotate tokens
// without a window where the old and new token are both rejected.
type Verifier struct {
	hashes []string
}

// NewVerifier builds a Verifier over the admin.tokens[].hash values from
// configuration.
func NewVerifier(hashes []string) *Verifier {
	v := &Verifier{hashes: make([]string, len(hashes))}
	copy(v.hashes, hashes)
	return v
}

// Verify reports whether raw matches any configured admin token hash.
// Unrecognized hash formats are skipped rather than treated as a match,
// so a single misconfigured entry never widens access.
func (v *Verifier) Verify(raw string) bool {
	for _, h := range v.hashes {
		match, err := VerifyToken(raw, h)
		if err == nil && match {
			return true
		}
	}
	return false
}
