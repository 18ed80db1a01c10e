package relay

import "regexp"

// usernamePattern allows letters, numbers, underscores, periods, hyphens,
// and @, between 3 and 36 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.@-]{3,36}$`)

// ValidUsername reports whether name is acceptable as a display name.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}
