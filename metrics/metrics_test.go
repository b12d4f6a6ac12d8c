package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordForceCertificationChanges(t *testing.T) {
	before := testutil.ToFloat64(forceCertificationChanges.WithLabelValues("add"))

	RecordForceCertificationChanges("add", 3)

	assert.Equal(t, before+3, testutil.ToFloat64(forceCertificationChanges.WithLabelValues("add")))
}

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}
