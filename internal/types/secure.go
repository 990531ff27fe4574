package types

// redactedPlaceholder replaces secret material wherever a SecretString is
// printed or serialized.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString wraps credential material that must never reach logs or API
// output: webhook signing secrets, channel bot tokens, the admin and health
// tokens, the Redis password. Its String and MarshalJSON methods emit a
// redacted placeholder, so a tenant config or settings struct can be logged
// or returned over HTTP without leaking the underlying value.
//
// Call Unmask only at the point the plaintext is actually consumed, such as
// verifying a webhook signature or building a provider request.
type SecretString string

// String satisfies fmt.Stringer with the redacted placeholder, covering
// fmt verbs and slog attributes alike.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON emits the placeholder as a JSON string so config snapshots
// and error payloads never carry the secret.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the plaintext. Keep call sites to the narrow spots that
// genuinely need the raw credential.
func (s SecretString) Unmask() string {
	return string(s)
}
