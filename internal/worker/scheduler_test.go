package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthCheckMinutes(t *testing.T) {
	cases := []struct {
		name string
		n    int
		want []int
	}{
		{"every 5", 5, []int{0, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55}},
		{"every 15", 15, []int{0, 15, 30, 45}},
		{"every 20", 20, []int{0, 20, 40}},
		{"every 30", 30, []int{0, 30}},
		{"every 60", 60, []int{0}},
		{"every 1", 1, func() []int {
			out := make([]int, 60)
			for i := range out {
				out[i] = i
			}
			return out
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HealthCheckMinutes(tc.n))
		})
	}
}

func TestHealthCheckMinutes_FallbackOnMisconfiguration(t *testing.T) {
	fallback := []int{0, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55}

	// Values that do not divide 60, zero and negatives all fall back to 5.
	for _, n := range []int{0, -1, 7, 13, 61, 45} {
		assert.Equal(t, fallback, HealthCheckMinutes(n), "n=%d", n)
	}
}

func TestHealthCheckCronspec(t *testing.T) {
	assert.Equal(t, "0,15,30,45 * * * *", healthCheckCronspec(15))
	assert.Equal(t, "0,30 * * * *", healthCheckCronspec(30))
	// Misconfigured interval renders the fallback spec.
	assert.Equal(t, "0,5,10,15,20,25,30,35,40,45,50,55 * * * *", healthCheckCronspec(7))
}
