package types

// IsValidUserID reports whether id is acceptable as a participant
// identifier: 1-50 characters from [A-Za-z0-9_-].
func IsValidUserID(id string) bool {
	if len(id) == 0 || len(id) > 50 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// IsValidRole reports whether role is one of the two classroom roles.
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}

// ValidateContentShare checks a content share against the accepted content
// kinds. Link content must carry a link.
func ValidateContentShare(cs *ContentShare) error {
	switch cs.ContentType {
	case ContentTypeScreenshot, ContentTypeDocument, ContentTypeLink, ContentTypeCode, ContentTypeNotes:
	default:
		return ErrInvalidContentType
	}
	if cs.ContentType == ContentTypeLink && cs.Link == "" {
		return ErrLinkRequired
	}
	return nil
}
