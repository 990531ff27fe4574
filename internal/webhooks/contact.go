package webhooks

import "strings"

// Contact is the sender identity extracted from a normalized inbound body.
type Contact struct {
	Phone     string
	Email     string
	FirstName string
	LastName  string
	SenderID  string
}

// HasReach reports whether the contact can be stored and replied to.
func (c Contact) HasReach() bool { return c.Phone != "" || c.Email != "" }

// ExtractContact derives the sender's contact details from a normalized
// body. When neither phone nor email is present and synthetic contacts are
// allowed, a deterministic channel-scoped email is fabricated from the
// sender id so the client record still has a stable key.
func ExtractContact(body map[string]any, channel, syntheticDomain string, allowSynthetic bool) Contact {
	c := Contact{
		Phone: firstNonEmpty(str(body["phone"]), str(body["primaryPhone"])),
		Email: firstNonEmpty(str(body["email"]), str(body["primaryEmail"])),
	}

	c.FirstName = str(body["firstName"])
	c.LastName = str(body["lastName"])
	if c.FirstName == "" {
		if name := str(body["name"]); name != "" {
			c.FirstName, c.LastName, _ = strings.Cut(name, " ")
		}
	}

	c.SenderID = firstNonEmpty(str(body["senderId"]), str(body["to"]), str(body["from"]))
	if c.Phone == "" && c.Email == "" && c.SenderID != "" && allowSynthetic {
		c.Email = channel + "-" + c.SenderID + "@" + syntheticDomain
	}
	return c
}
