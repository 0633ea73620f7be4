package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blukai/circlesync/internal/logging"
	"github.com/matryer/is"
	"github.com/phuslu/log"
)

func TestNewFile(t *testing.T) {
	is := is.New(t)

	file := filepath.Join(t.TempDir(), "server.log")

	logger := logging.New("warn", file)
	is.Equal(logger.Level, log.WarnLevel)

	logger.Info().Msg("dropped")
	logger.Warn().Uint32("peer", 7).Msg("kept")

	data, err := os.ReadFile(file)
	is.NoErr(err)
	is.True(!strings.Contains(string(data), "dropped"))
	is.True(strings.Contains(string(data), `"peer":7`))
	is.True(strings.Contains(string(data), "kept"))
}

func TestOrDiscard(t *testing.T) {
	is := is.New(t)

	logger := logging.New("debug", "")
	is.Equal(logging.OrDiscard(logger), logger)
	is.True(logging.OrDiscard(nil) != nil)
}
