package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	// Reset metrics
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/api/v1/videos", "200", 0.123)

	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/videos", "200"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordVideoUpload(t *testing.T) {
	VideoUploadsTotal.Reset()
	UploadsRejectedTotal.Reset()

	RecordVideoUpload("mp4", 10*1024*1024)
	RecordVideoUpload("mp4", 1024)
	RecordVideoUpload("wav", 1024)
	RecordUploadRejected("size")

	if got := testutil.ToFloat64(VideoUploadsTotal.WithLabelValues("mp4")); got != 2.0 {
		t.Errorf("Expected mp4 uploads to be 2.0, got %f", got)
	}
	if got := testutil.ToFloat64(UploadsRejectedTotal.WithLabelValues("size")); got != 1.0 {
		t.Errorf("Expected rejected uploads to be 1.0, got %f", got)
	}
}

func TestRecordStage(t *testing.T) {
	StageOutcomesTotal.Reset()
	StagesInProgress.Reset()

	StageStarted("burn")
	StageStarted("burn")
	if got := testutil.ToFloat64(StagesInProgress.WithLabelValues("burn")); got != 2.0 {
		t.Errorf("Expected 2 burns in progress, got %f", got)
	}

	RecordStage("burn", "completed", 12.5)
	RecordStage("burn", "failed", 1.0)

	if got := testutil.ToFloat64(StagesInProgress.WithLabelValues("burn")); got != 0 {
		t.Errorf("Expected no burns in progress, got %f", got)
	}
	if got := testutil.ToFloat64(StageOutcomesTotal.WithLabelValues("burn", "failed")); got != 1.0 {
		t.Errorf("Expected 1 failed burn, got %f", got)
	}
}

func TestRecordLedger(t *testing.T) {
	LedgerMinutesTotal.Reset()

	before := testutil.ToFloat64(LedgerCostTotal)
	RecordLedgerReservation(20, 5, 0.5)
	RecordLedgerReservation(0, 10, 1.0)

	if got := testutil.ToFloat64(LedgerMinutesTotal.WithLabelValues("billable")); got != 15.0 {
		t.Errorf("Expected 15 billable minutes, got %f", got)
	}
	if got := testutil.ToFloat64(LedgerMinutesTotal.WithLabelValues("free")); got != 20.0 {
		t.Errorf("Expected 20 free minutes, got %f", got)
	}
	if got := testutil.ToFloat64(LedgerCostTotal) - before; got != 1.5 {
		t.Errorf("Expected cost delta 1.5, got %f", got)
	}

	conflicts := testutil.ToFloat64(LedgerConflictsTotal)
	RecordLedgerConflict()
	if got := testutil.ToFloat64(LedgerConflictsTotal); got != conflicts+1 {
		t.Errorf("Expected conflicts to increase by one, got %f", got)
	}
}

func TestRecordProviderError(t *testing.T) {
	ProviderErrorsTotal.Reset()

	RecordProviderError("asr", "503")
	RecordProviderError("asr", "503")
	RecordProviderError("dubbing", "network")

	if got := testutil.ToFloat64(ProviderErrorsTotal.WithLabelValues("asr", "503")); got != 2.0 {
		t.Errorf("Expected 2 asr errors, got %f", got)
	}
}

func TestRecordCoordinatorConflict(t *testing.T) {
	CoordinatorConflictsTotal.Reset()
	RecordCoordinatorConflict("transcription")

	if got := testutil.ToFloat64(CoordinatorConflictsTotal.WithLabelValues("transcription")); got != 1.0 {
		t.Errorf("Expected 1 conflict, got %f", got)
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestSetStatusCounts(t *testing.T) {
	VideosByStatus.Reset()

	SetStatusCounts(VideosByStatus, []string{"queued", "failed"}, map[string]int64{"queued": 3})

	if got := testutil.ToFloat64(VideosByStatus.WithLabelValues("queued")); got != 3.0 {
		t.Errorf("Expected queued gauge to be 3.0, got %f", got)
	}
	if got := testutil.ToFloat64(VideosByStatus.WithLabelValues("failed")); got != 0.0 {
		t.Errorf("Expected failed gauge to be 0.0, got %f", got)
	}
}
