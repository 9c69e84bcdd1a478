package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, m *Metrics, labels ...string) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.ConsumerLag.WithLabelValues(labels...).Write(&out))
	return out.GetGauge().GetValue()
}

func TestSetConsumerLag(t *testing.T) {
	m := New(nil)
	m.SetConsumerLag("profile-merger", map[string]map[int32]int64{
		"intake.response.completed": {0: 4, 7: 0},
	})
	assert.Equal(t, 4.0, gaugeValue(t, m, "profile-merger", "intake.response.completed", "0"))
	assert.Equal(t, 0.0, gaugeValue(t, m, "profile-merger", "intake.response.completed", "7"))

	m.SetConsumerLag("profile-merger", map[string]map[int32]int64{
		"intake.response.completed": {0: 1},
	})
	assert.Equal(t, 1.0, gaugeValue(t, m, "profile-merger", "intake.response.completed", "0"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `intake_consumer_group_lag{group="profile-merger",partition="0",topic="intake.response.completed"} 1`)
}
