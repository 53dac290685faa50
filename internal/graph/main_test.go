package graph

import (
	"io"
	"os"
	"testing"

	"github.com/Suraj520/automl/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetupWriter(io.Discard, "WARN", "console")
	os.Exit(m.Run())
}
