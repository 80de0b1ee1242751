package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	assert.NotEqual(t, id1.String(), id2.String())
}

func TestTypedIDs(t *testing.T) {
	sub := NewSubjectID()
	peer := NewPeerID()

	assert.True(t, strings.HasPrefix(sub.String(), SubjectPrefix+"_"))
	assert.True(t, strings.HasPrefix(peer.String(), PeerPrefix+"_"))
	assert.True(t, IsValid(sub.String()))
	assert.True(t, IsValid(peer.String()))
	assert.False(t, sub.IsZero())
	assert.True(t, SubjectID("").IsZero())

	assert.True(t, strings.HasPrefix(NewTraceID(), TracePrefix+"_"))
	assert.True(t, IsValid(NewSpanID()))

	_, err := uuid.Parse(NewRunID().String())
	assert.NoError(t, err)
}

func TestIsValid(t *testing.T) {
	assert.False(t, IsValid("sub_not-a-ulid"))
	assert.False(t, IsValid(""))
	assert.True(t, IsValid(Default().Generate().String()))
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewSubjectID().String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("sub_bogus")
	assert.Error(t, err)
}

func TestMonotonicSorting(t *testing.T) {
	gen := NewGenerator()
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = gen.GenerateWithPrefix(SubjectPrefix)
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted)
}

func TestConcurrentGeneration(t *testing.T) {
	const workers, perWorker = 8, 100

	var (
		mu   sync.Mutex
		seen = make(map[SubjectID]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				sub := NewSubjectID()
				mu.Lock()
				seen[sub] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}
