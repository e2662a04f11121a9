package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

func TestValidateRejectsEmptyAndOversized(t *testing.T) {
	assert.False(t, Validate(InboundMessage{Text: ""}))
	assert.False(t, Validate(InboundMessage{Text: strings.Repeat("a", maxTextLen+1)}))
	assert.True(t, Validate(InboundMessage{Text: "hello"}))
}

func TestValidateRejectsInvalidUTF8(t *testing.T) {
	assert.False(t, Validate(InboundMessage{Text: string([]byte{0xff, 0xfe})}))
}

func TestDedupTryInsertIsAtomicPerKey(t *testing.T) {
	d := NewDedup()
	key := Key("chat1", "user1", "msg1")
	assert.True(t, d.TryInsert(key))
	assert.False(t, d.TryInsert(key))
	d.Remove(key)
	assert.True(t, d.TryInsert(key))
}

func TestACLAllowsEverythingWithEmptyLists(t *testing.T) {
	acl := ACL{}
	assert.True(t, acl.Allowed("any-chat", "any-user"))
}

func TestACLRestrictsToAllowedLists(t *testing.T) {
	acl := ACL{AllowedChats: []string{"c1"}, AllowedUsers: []string{"u1"}}
	assert.True(t, acl.Allowed("c1", "u1"))
	assert.False(t, acl.Allowed("c2", "u1"))
	assert.False(t, acl.Allowed("c1", "u2"))
}

func TestAddressedToMe(t *testing.T) {
	assert.True(t, AddressedToMe(InboundMessage{IsPrivate: true}, nil))
	assert.True(t, AddressedToMe(InboundMessage{Mentioned: true}, nil))
	assert.True(t, AddressedToMe(InboundMessage{ReplyToExternalID: "m1"}, nil))
	assert.True(t, AddressedToMe(InboundMessage{ChatID: "c1"}, []string{"c1"}))
	assert.False(t, AddressedToMe(InboundMessage{ChatID: "c2"}, []string{"c1"}))
}

func TestAdmissionLimiterRateLimitsAfterThirtyEvents(t *testing.T) {
	limiter := NewAdmissionLimiter(ACL{AllowedChats: []string{"c1"}}, nil)
	msg := InboundMessage{ChatID: "c1", UserExternalID: "u1", IsPrivate: true}
	for i := 0; i < 30; i++ {
		ok, reason := limiter.Check(msg)
		require.True(t, ok, "expected admission %d to pass", i)
		require.Empty(t, reason)
	}
	_, reason := limiter.Check(msg)
	assert.Equal(t, DropRateLimited, reason)
}

func TestAdmissionLimiterRejectsNotAddressed(t *testing.T) {
	limiter := NewAdmissionLimiter(ACL{}, nil)
	ok, reason := limiter.Check(InboundMessage{ChatID: "c1", UserExternalID: "u1"})
	assert.False(t, ok)
	assert.Equal(t, DropNotAddressed, reason)
}

func TestExtractTextWrapped(t *testing.T) {
	assert.Equal(t, "hello world", ExtractText("preamble<text>hello world</text>trailer"))
}

func TestExtractTextUnclosedTagUsesRestVerbatim(t *testing.T) {
	assert.Equal(t, "hello world", ExtractText("<text>hello world"))
}

func TestExtractTextNoTagReturnsUnchanged(t *testing.T) {
	assert.Equal(t, "plain text", ExtractText("plain text"))
}

func TestPacerShouldEmit(t *testing.T) {
	p := NewPacer(100*time.Millisecond, time.Second)
	now := time.Now()
	assert.True(t, p.ShouldEmit(now, false))
	p.MarkEmitted(now)
	assert.False(t, p.ShouldEmit(now.Add(10*time.Millisecond), false))
	assert.True(t, p.ShouldEmit(now.Add(200*time.Millisecond), false))
	assert.True(t, p.ShouldEmit(now.Add(10*time.Millisecond), true))
}

func TestConsumeAssemblesChunksAndEmitsFinal(t *testing.T) {
	chunks := make(chan provider.Chunk, 4)
	chunks <- provider.Chunk{Text: "hel"}
	chunks <- provider.Chunk{Text: "lo"}
	chunks <- provider.Chunk{Final: true}
	close(chunks)

	var emitted []string
	pacer := NewPacer(0, time.Second)
	assembled, interrupted, err := Consume(context.Background(), chunks, pacer, func(ctx context.Context, text string, final bool) error {
		emitted = append(emitted, text)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, interrupted)
	assert.Equal(t, "hello", assembled)
	assert.Equal(t, "hello", emitted[len(emitted)-1])
}

func TestConsumeHandlesContextCancellation(t *testing.T) {
	chunks := make(chan provider.Chunk)
	ctx, cancel := context.WithCancel(context.Background())
	pacer := NewPacer(0, time.Second)

	var emitted string
	done := make(chan struct{})
	go func() {
		assembled, interrupted, _ := Consume(ctx, chunks, pacer, func(ctx context.Context, text string, final bool) error {
			emitted = text
			return nil
		})
		assert.True(t, interrupted)
		assert.Equal(t, "partial", assembled)
		close(done)
	}()
	chunks <- provider.Chunk{Text: "partial"}
	cancel()
	<-done
	assert.Contains(t, emitted, "(interrupted)")
}

func TestWorkerPoolContainsPanics(t *testing.T) {
	p := NewWorkerPool(DefaultWorkerPoolConfig())
	err := p.Submit(context.Background(), "panicky", func(ctx context.Context) {
		panic("boom")
	})
	require.NoError(t, err)
	p.Wait()
}
