package core

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saloncore/internal/types"
)

func enqueueBody(extra map[string]any) map[string]any {
	body := map[string]any{
		"idempotencyKey": "req-1",
		"channel":        "telegram",
		"to":             "12345",
		"message":        "your booking is confirmed",
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func TestHandleEnqueueQueuesTxJob(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/queue/tx", enqueueBody(nil),
		map[string]string{"X-Tenant-Id": "salon-1"})

	require.Equal(t, http.StatusAccepted, rec.Code, "body: %s", rec.Body.String())
	resp := decodeMap(t, rec)
	assert.Equal(t, "queued", resp["status"])
	assert.NotEmpty(t, resp["jobId"])

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, types.QueueTx, job.Queue)
	assert.Equal(t, types.JobKindNotify, job.Kind)
	require.NotNil(t, job.Notify)
	assert.Equal(t, "salon-1", job.Notify.TenantID)
	assert.Equal(t, "telegram", job.Notify.Channel)
	assert.Equal(t, "12345", job.Notify.To)

	// The tx quota was consumed under the tenant's daily key.
	require.Len(t, f.limiter.keys, 1)
	assert.Equal(t, "tx:salon-1", f.limiter.keys[0])
	assert.Equal(t, 3000, f.limiter.limits[0])
}

func TestHandleEnqueueBuildsCampaignJob(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/queue/mk", enqueueBody(map[string]any{
		"campaignId": "spring-promo",
		"clientId":   "cl-9",
		"timeZone":   "Europe/Moscow",
	}), map[string]string{"X-Tenant-Id": "salon-1"})

	require.Equal(t, http.StatusAccepted, rec.Code, "body: %s", rec.Body.String())
	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, types.QueueMk, job.Queue)
	assert.Equal(t, types.JobKindCampaign, job.Kind)
	require.NotNil(t, job.Campaign)
	assert.Equal(t, "spring-promo", job.Campaign.CampaignID)
	assert.Equal(t, "cl-9", job.Campaign.ClientID)
	assert.Equal(t, "Europe/Moscow", job.Campaign.TimeZone)
	assert.Equal(t, "mk:salon-1", f.limiter.keys[0])
}

func TestHandleEnqueueRejectsUnknownQueue(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/queue/bulk", enqueueBody(nil), nil)

	requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationMissingField)
	assert.Empty(t, f.queue.jobs)
}

func TestHandleEnqueueRejectsMissingFields(t *testing.T) {
	f := newServerFixture(t)

	body := enqueueBody(nil)
	delete(body, "message")
	rec := f.do(t, http.MethodPost, "/queue/tx", body, nil)

	requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationMissingField)
}

func TestHandleEnqueueRejectsUnsupportedChannel(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/queue/tx",
		enqueueBody(map[string]any{"channel": "fax"}), nil)

	requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationChannel)
}

func TestHandleEnqueueRejectsDuplicateIdempotencyKey(t *testing.T) {
	f := newServerFixture(t)
	headers := map[string]string{"X-Tenant-Id": "salon-1"}

	first := f.do(t, http.MethodPost, "/queue/tx", enqueueBody(nil), headers)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := f.do(t, http.MethodPost, "/queue/tx", enqueueBody(nil), headers)
	requireErrorCode(t, second, http.StatusConflict, types.ErrCodeConflictDuplicate)

	assert.Len(t, f.queue.jobs, 1)
	assert.Contains(t, f.guard.seen, "idemp:enqueue:tx:salon-1:req-1")
}

func TestHandleEnqueueRateLimited(t *testing.T) {
	f := newServerFixture(t)
	f.limiter.denyAll = true
	f.limiter.reset = 42

	rec := f.do(t, http.MethodPost, "/queue/tx", enqueueBody(nil), nil)

	detail := requireErrorCode(t, rec, http.StatusTooManyRequests, types.ErrCodeRateLimit)
	assert.EqualValues(t, 42, detail.Details["resetInSeconds"])
	// A throttled request must not consume the idempotency key.
	assert.Empty(t, f.guard.seen)
	assert.Empty(t, f.queue.jobs)
}

func TestHandleEnqueueSchedulesReminder(t *testing.T) {
	f := newServerFixture(t)
	runAt := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	rec := f.do(t, http.MethodPost, "/queue/reminders", enqueueBody(map[string]any{
		"runAt":     runAt.Format(time.RFC3339),
		"bookingId": "bk-7",
		"timeZone":  "Europe/Moscow",
	}), map[string]string{"X-Tenant-Id": "salon-1"})

	require.Equal(t, http.StatusAccepted, rec.Code, "body: %s", rec.Body.String())
	resp := decodeMap(t, rec)
	assert.Equal(t, "scheduled", resp["status"])
	assert.Equal(t, "rem-1", resp["jobId"])
	assert.Equal(t, runAt.Format(time.RFC3339), resp["runAt"])

	require.Len(t, f.scheduler.entries, 1)
	entry := f.scheduler.entries[0]
	assert.Equal(t, "salon-1", entry.TenantID)
	assert.Equal(t, "bk-7", entry.BookingID)
	assert.True(t, f.scheduler.runAts[0].Equal(runAt))
	// Reminders carry no tenant quota of their own.
	assert.Empty(t, f.limiter.keys)
}

func TestHandleEnqueueReminderRequiresRunAt(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/queue/reminders", enqueueBody(nil), nil)

	requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationMissingField)
}

func TestHandleEnqueueReminderRejectsBadRunAt(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/queue/reminders",
		enqueueBody(map[string]any{"runAt": "tomorrow at noon"}), nil)

	requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationInvalidTime)
	assert.Empty(t, f.scheduler.entries)
}

func TestHandleDirectSend(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/send/whatsapp", map[string]any{
		"to":      "+79991234567",
		"message": "see you tomorrow",
	}, map[string]string{"X-Tenant-Id": "salon-1"})

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	resp := decodeMap(t, rec)
	assert.Equal(t, "queued", resp["status"])
	assert.NotEmpty(t, resp["messageId"])

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, "queue:send:whatsapp", job.Queue)
	assert.Equal(t, types.JobKindChannelSend, job.Kind)
	require.NotNil(t, job.ChannelSend)
	assert.Equal(t, "salon-1", job.ChannelSend.TenantID)
	assert.Equal(t, "+79991234567", job.ChannelSend.To)
}

func TestHandleDirectSendRejectsUnsupportedChannel(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/send/smoke-signal", map[string]any{
		"to": "1", "message": "hi",
	}, nil)

	requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationChannel)
}

func TestHandleDirectSendRequiresToAndMessage(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/send/telegram", map[string]any{"to": "1"}, nil)

	requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationMissingField)
}
