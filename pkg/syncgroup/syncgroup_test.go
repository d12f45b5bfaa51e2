package syncgroup

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncGroupRunsAndWaits(t *testing.T) {
	sg := NewSyncGroup()
	var n atomic.Int64
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		sg.Add(func() {
			<-release
			n.Add(1)
		})
	}
	sg.Add(nil)
	sg.Run()
	assert.Equal(t, 3, sg.Running())

	close(release)
	sg.WaitAndClear()
	assert.EqualValues(t, 3, n.Load())
	assert.Equal(t, 0, sg.Running())

	// 复用
	sg.Add(func() { n.Add(1) })
	sg.Run()
	sg.Wait()
	assert.EqualValues(t, 4, n.Load())
}
