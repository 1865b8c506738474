package ingestion

import (
	"testing"

	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger init: %v", err)
	}
	return log
}
