package auth

// Principal returns the identity behind an Allowed or Forbidden decision.
func (d Decision) Principal() (Principal, bool) {
	if d.Outcome == Unauthenticated || d.Subject == "" {
		return Principal{}, false
	}
	return Principal{UserID: d.Subject, Role: d.Role}, true
}
