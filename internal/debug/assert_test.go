package debug_test

import (
	"strings"
	"testing"

	"github.com/blukai/circlesync/internal/debug"
	"github.com/matryer/is"
)

func recovered(fn func()) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = r.(string)
		}
	}()
	fn()
	return ""
}

func TestAssert(t *testing.T) {
	is := is.New(t)

	is.Equal(recovered(func() { debug.Assert(true) }), "")
	is.Equal(recovered(func() { debug.Assertf(true, "never %d", 1) }), "")

	msg := recovered(func() { debug.Assert(false, "boom") })
	is.True(strings.Contains(msg, "assert_test.go"))
	is.True(strings.Contains(msg, "boom"))

	msg = recovered(func() { debug.Assertf(false, "size %d", 13) })
	is.True(strings.Contains(msg, "assert_test.go"))
	is.True(strings.HasSuffix(msg, "assertion failed: size 13"))
}
