package sign

import "errors"

var (
	// ErrSourceUnreadable is returned when the source document cannot be
	// opened or parsed.
	ErrSourceUnreadable = errors.New("source document unreadable")

	// ErrPlaceholderTooSmall is returned when the CMS container does not
	// fit the reserved /Contents. The placeholder is never resized.
	ErrPlaceholderTooSmall = errors.New("signature placeholder too small")

	// ErrInvalidAppearanceTarget is returned for a page outside the
	// document or an empty or non-finite rectangle.
	ErrInvalidAppearanceTarget = errors.New("invalid appearance target")

	// ErrAppearanceAlreadyRendered is returned by a second Render call.
	ErrAppearanceAlreadyRendered = errors.New("appearance already rendered")

	// ErrDocumentConsumed is returned when a reserved document is used
	// after Sign.
	ErrDocumentConsumed = errors.New("reserved document already consumed")

	// ErrEncryptionParameterInvalid is returned for passwords that cannot
	// be encoded or an unusable algorithm selection.
	ErrEncryptionParameterInvalid = errors.New("invalid encryption parameter")

	// ErrDigestMismatch is returned when the CMS messageDigest differs
	// from the digest of the byte ranges.
	ErrDigestMismatch = errors.New("message digest does not match byte ranges")

	// ErrUnsupportedDigest is returned for digest algorithms other than
	// SHA-256, SHA-384 and SHA-512.
	ErrUnsupportedDigest = errors.New("unsupported digest algorithm")
)
