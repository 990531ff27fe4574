package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Queue names used across the platform. A queue is a Redis stream; each has a
// matching dead-letter stream derived by DeadLetterQueue.
const (
	QueueTx = "queue:tx"
	QueueMk = "queue:mk"

	queueSendPrefix = "queue:send:"
	queueDeadPrefix = "queue:dead:"
)

// SendQueue returns the per-channel outbound delivery queue name.
func SendQueue(channel string) string {
	return queueSendPrefix + channel
}

// DeadLetterQueue returns the dead-letter stream for the given queue,
// e.g. "queue:tx" -> "queue:dead:tx", "queue:send:telegram" ->
// "queue:dead:send:telegram".
func DeadLetterQueue(queue string) string {
	return queueDeadPrefix + trimQueuePrefix(queue)
}

func trimQueuePrefix(queue string) string {
	const p = "queue:"
	if len(queue) > len(p) && queue[:len(p)] == p {
		return queue[len(p):]
	}
	return queue
}

// JobKind discriminates the closed set of payload variants a Job may carry.
// Every job carries exactly one variant matching its Kind; DecodeJob enforces
// this once at dequeue time so workers never switch on loose string fields.
type JobKind string

const (
	// JobKindNotify is a transactional notification (tx queue).
	JobKindNotify JobKind = "notify"
	// JobKindCampaign is a marketing campaign message (mk queue).
	JobKindCampaign JobKind = "campaign"
	// JobKindChannelSend is a concrete outbound delivery on a send queue.
	JobKindChannelSend JobKind = "channel_send"
	// JobKindReminderDispatch is a due reminder re-injected by the reminder
	// worker into its target queue.
	JobKindReminderDispatch JobKind = "reminder_dispatch"
)

// NotifyPayload is the transactional-message variant.
type NotifyPayload struct {
	TenantID string         `json:"tenantId"`
	Channel  string         `json:"channel"`
	To       string         `json:"to"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CampaignPayload is the marketing-campaign variant.
type CampaignPayload struct {
	TenantID   string         `json:"tenantId"`
	CampaignID string         `json:"campaignId,omitempty"`
	ClientID   string         `json:"clientId,omitempty"`
	Channel    string         `json:"channel"`
	To         string         `json:"to"`
	Message    string         `json:"message"`
	TimeZone   string         `json:"timeZone,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ChannelSendPayload is the outbound-delivery variant consumed by the sender
// worker. Metadata may carry per-message credential overrides which take
// precedence over the tenant's channel defaults.
type ChannelSendPayload struct {
	TenantID string         `json:"tenantId"`
	Channel  string         `json:"channel"`
	To       string         `json:"to"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ReminderDispatchPayload is the variant produced when a due ReminderEntry is
// moved back into the job queue.
type ReminderDispatchPayload struct {
	TenantID  string         `json:"tenantId"`
	Channel   string         `json:"channel"`
	To        string         `json:"to"`
	Message   string         `json:"message"`
	BookingID string         `json:"bookingId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Job is a single entry in a durable queue. It is owned exclusively by the
// queue until acknowledged. Attempts is mutated only by a worker producing a
// retry copy, never in place; LastError is set only on dead-letter copies.
type Job struct {
	ID        string    `json:"id"`
	Queue     string    `json:"queue"`
	Kind      JobKind   `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`

	Notify      *NotifyPayload           `json:"notify,omitempty"`
	Campaign    *CampaignPayload         `json:"campaign,omitempty"`
	ChannelSend *ChannelSendPayload      `json:"channelSend,omitempty"`
	Reminder    *ReminderDispatchPayload `json:"reminder,omitempty"`
}

// TenantID returns the tenant owning the job's payload, or "" if the payload
// variant is missing.
func (j *Job) TenantID() string {
	switch j.Kind {
	case JobKindNotify:
		if j.Notify != nil {
			return j.Notify.TenantID
		}
	case JobKindCampaign:
		if j.Campaign != nil {
			return j.Campaign.TenantID
		}
	case JobKindChannelSend:
		if j.ChannelSend != nil {
			return j.ChannelSend.TenantID
		}
	case JobKindReminderDispatch:
		if j.Reminder != nil {
			return j.Reminder.TenantID
		}
	}
	return ""
}

// Validate checks that the Job carries exactly the payload variant matching
// its Kind.
func (j *Job) Validate() error {
	count := 0
	for _, present := range []bool{j.Notify != nil, j.Campaign != nil, j.ChannelSend != nil, j.Reminder != nil} {
		if present {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("job %s: exactly one payload variant required, found %d", j.ID, count)
	}

	var matched bool
	switch j.Kind {
	case JobKindNotify:
		matched = j.Notify != nil
	case JobKindCampaign:
		matched = j.Campaign != nil
	case JobKindChannelSend:
		matched = j.ChannelSend != nil
	case JobKindReminderDispatch:
		matched = j.Reminder != nil
	default:
		return fmt.Errorf("job %s: unknown kind %q", j.ID, j.Kind)
	}
	if !matched {
		return fmt.Errorf("job %s: payload variant does not match kind %q", j.ID, j.Kind)
	}
	return nil
}

// EncodeJob serializes a Job for storage in a stream entry.
func EncodeJob(j *Job) ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob deserializes and validates a Job read from a stream entry.
// Decoding happens exactly once, at dequeue time.
func DecodeJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}
