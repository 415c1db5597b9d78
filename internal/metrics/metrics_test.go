package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		ObserveJob("outbound", "success", 15*time.Millisecond)
		IncFullSync("bookeo", false)
		IncProviderRequest("bookeo", 429)
		IncProviderRequest("bookeo", 0)
	})
}
