package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterNoFalseNegatives(t *testing.T) {
	f := New(1000, 0.01)
	keys := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key-%d", i)))
	}
	for _, k := range keys {
		f.Add(k)
	}
	for _, k := range keys {
		assert.True(t, f.MayContain(k))
	}
}

func TestFilterFalsePositiveRateBounded(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add([]byte(fmt.Sprintf("present-%d", i)))
	}
	falsePositives := 0
	trials := 10000
	for i := 0; i < trials; i++ {
		if f.MayContain([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	assert.Less(t, rate, 0.05, "false positive rate too high: %f", rate)
}

func TestFilterSerializeRoundtrip(t *testing.T) {
	f := New(100, 0.01)
	for i := 0; i < 100; i++ {
		f.Add([]byte(fmt.Sprintf("k-%d", i)))
	}
	data := f.Serialize()
	f2, err := Deserialize(data)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		assert.True(t, f2.MayContain([]byte(fmt.Sprintf("k-%d", i))))
	}
}

func TestDeserializeTruncated(t *testing.T) {
	_, err := Deserialize([]byte{1, 2, 3})
	require.Error(t, err)
}
