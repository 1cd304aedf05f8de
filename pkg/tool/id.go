package tool

import "github.com/google/uuid"

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IsUUID reports whether s is a UUID in canonical dashed form. uuid.Parse
// alone also accepts urn:uuid: prefixes, braces, and undashed hex; the length
// check pins the format to the 36-character canonical one.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
