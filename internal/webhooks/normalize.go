package webhooks

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Normalized is the canonical inbound message extracted from a channel's raw
// webhook body. Body carries the original fields plus the canonical ones
// merged in; canonical fields never overwrite values the sender set at the
// top level.
type Normalized struct {
	Body   map[string]any
	Valid  bool
	Errors []string
}

// Message returns the canonical message text.
func (n Normalized) Message() string { return str(n.Body["message"]) }

// MessageID returns the channel's message identifier.
func (n Normalized) MessageID() string { return str(n.Body["messageId"]) }

// SenderID returns the channel-scoped sender identifier.
func (n Normalized) SenderID() string { return str(n.Body["senderId"]) }

// Phone returns the sender's phone number when the channel carries one.
func (n Normalized) Phone() string { return str(n.Body["phone"]) }

// Name returns the sender's display name when the channel carries one.
func (n Normalized) Name() string { return str(n.Body["name"]) }

// Normalize extracts the canonical {message, sender} pair from a channel's
// raw body shape. Unknown channels pass through untouched and valid; known
// channels report specific missing-field errors so strict mode can answer
// with a precise 400.
func Normalize(channel string, body map[string]any) Normalized {
	n := Normalized{Body: make(map[string]any, len(body)+4)}
	for k, v := range body {
		n.Body[k] = v
	}

	switch channel {
	case "whatsapp":
		normalizeWhatsapp(&n)
	case "instagram":
		normalizeInstagram(&n)
	case "vkmax":
		normalizeVkmax(&n)
	case "telegram":
		normalizeTelegram(&n)
	}

	n.Valid = len(n.Errors) == 0
	return n
}

// setIfMissing fills a canonical key only when the raw body did not already
// carry a non-empty value for it.
func (n *Normalized) setIfMissing(key, value string) {
	if value == "" {
		return
	}
	if existing := str(n.Body[key]); existing == "" {
		n.Body[key] = value
	}
}

func (n *Normalized) fail(msg string) {
	n.Errors = append(n.Errors, msg)
}

// normalizeWhatsapp digs through the Cloud API envelope:
// entry[0].changes[0].value.{messages[0], contacts[0]}.
func normalizeWhatsapp(n *Normalized) {
	value := dig(n.Body, "entry", 0, "changes", 0, "value")
	message := dig(value, "messages", 0)
	contact := dig(value, "contacts", 0)

	text := str(dig(message, "text")["body"])
	if text == "" {
		text = str(dig(message, "button")["text"])
	}
	if text == "" {
		text = str(dig(message, "interactive", "button_reply")["title"])
	}
	if text == "" {
		text = str(dig(message, "interactive", "list_reply")["title"])
	}
	from := str(message["from"])
	waID := str(contact["wa_id"])

	n.setIfMissing("message", text)
	n.setIfMissing("messageId", str(message["id"]))
	n.setIfMissing("phone", firstNonEmpty(waID, from))
	n.setIfMissing("name", str(dig(contact, "profile")["name"]))
	n.setIfMissing("senderId", firstNonEmpty(from, waID))

	if len(message) == 0 && text == "" {
		n.fail("whatsapp: missing messages[0].text")
	}
	if from == "" && waID == "" {
		n.fail("whatsapp: missing sender")
	}
}

// normalizeInstagram handles entry[0].messaging[0] (or standby) payloads.
func normalizeInstagram(n *Normalized) {
	messaging := dig(n.Body, "entry", 0, "messaging", 0)
	if len(messaging) == 0 {
		messaging = dig(n.Body, "entry", 0, "standby", 0)
	}
	sender := dig(messaging, "sender")
	message := dig(messaging, "message")

	n.setIfMissing("message", str(message["text"]))
	n.setIfMissing("messageId", str(message["mid"]))
	n.setIfMissing("senderId", str(sender["id"]))

	if str(message["text"]) == "" {
		n.fail("instagram: missing message.text")
	}
	if str(sender["id"]) == "" {
		n.fail("instagram: missing sender.id")
	}
}

// normalizeVkmax handles object.message (or top-level message) payloads.
func normalizeVkmax(n *Normalized) {
	message := dig(n.Body, "object", "message")
	if len(message) == 0 {
		message = dig(n.Body, "message")
	}

	n.setIfMissing("message", str(message["text"]))
	n.setIfMissing("messageId", str(message["id"]))
	n.setIfMissing("senderId", str(message["from_id"]))
	n.setIfMissing("name", str(message["from"]))

	if str(message["text"]) == "" {
		n.fail("vkmax: missing message.text")
	}
	if str(message["from_id"]) == "" {
		n.fail("vkmax: missing from_id")
	}
}

// normalizeTelegram handles Bot API update payloads.
func normalizeTelegram(n *Normalized) {
	message := dig(n.Body, "message")
	from := dig(message, "from")

	name := strings.TrimSpace(strings.Join(nonEmpty(str(from["first_name"]), str(from["last_name"])), " "))

	n.setIfMissing("message", str(message["text"]))
	n.setIfMissing("messageId", str(message["message_id"]))
	n.setIfMissing("senderId", str(from["id"]))
	n.setIfMissing("name", name)

	if str(message["text"]) == "" {
		n.fail("telegram: missing message.text")
	}
	if str(from["id"]) == "" {
		n.fail("telegram: missing from.id")
	}
}

// dig walks a nested structure of maps and slices, returning the map at the
// end of the path or an empty map when any step is absent or mistyped. Path
// elements are string keys or int slice indexes.
func dig(root any, path ...any) map[string]any {
	cur := root
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return map[string]any{}
			}
			cur = m[key]
		case int:
			s, ok := cur.([]any)
			if !ok || key >= len(s) {
				return map[string]any{}
			}
			cur = s[key]
		}
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

// str renders a scalar value as a string; numeric ids become their decimal
// form and everything else is "".
func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(vals ...string) []string {
	out := vals[:0]
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
