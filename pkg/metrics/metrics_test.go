package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSubmission(t *testing.T) {
	submissionsTotal.Reset()

	RecordSubmission("accepted")
	RecordSubmission("accepted")
	RecordSubmission("timeout")

	if got := testutil.ToFloat64(submissionsTotal.WithLabelValues("accepted")); got != 2 {
		t.Errorf("accepted = %f, want 2", got)
	}
	if got := testutil.ToFloat64(submissionsTotal.WithLabelValues("timeout")); got != 1 {
		t.Errorf("timeout = %f, want 1", got)
	}
}

func TestRecordNotification(t *testing.T) {
	notificationsTotal.Reset()

	RecordNotification("hub", "AI_RESPONSE", true)
	RecordNotification("hub", "AI_RESPONSE", false)

	if got := testutil.ToFloat64(notificationsTotal.WithLabelValues("hub", "AI_RESPONSE", "published")); got != 1 {
		t.Errorf("published = %f", got)
	}
	if got := testutil.ToFloat64(notificationsTotal.WithLabelValues("hub", "AI_RESPONSE", "dropped")); got != 1 {
		t.Errorf("dropped = %f", got)
	}
}

func TestRecordInvocation(t *testing.T) {
	invocationDuration.Reset()

	RecordInvocation("VoiceProcessing", "sync", "ok", 0.3)
	if count := testutil.CollectAndCount(invocationDuration); count != 1 {
		t.Errorf("series = %d, want 1", count)
	}
}

func TestRecordExpiredTurnsIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(expiredTurnsTotal)
	RecordExpiredTurns(0)
	RecordExpiredTurns(2)
	if got := testutil.ToFloat64(expiredTurnsTotal) - before; got != 2 {
		t.Errorf("delta = %f, want 2", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordTransition("PROCESSING", "TRANSCRIBED")
	RecordStaleCallback("transcription")
	SetSubscribers(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"voice_api_turn_transitions_total",
		"voice_api_stale_callbacks_total",
		"voice_api_subscribers_active 3",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("exposition missing %q", name)
		}
	}
}
