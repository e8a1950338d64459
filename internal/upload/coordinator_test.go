package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"go.uber.org/zap"
)

type fakeBackend struct {
	mu         sync.Mutex
	requests   []string
	puts       []string
	cancels    []string
	requestErr map[string]error
	putErr     map[string]error
	cancelErr  error
}

func (b *fakeBackend) RequestUploadTarget(_ context.Context, scope Scope, ownerID, fileName string) (Target, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, fmt.Sprintf("%s/%s/%s", scope, ownerID, fileName))
	if err := b.requestErr[fileName]; err != nil {
		return Target{}, err
	}
	return Target{UploadURL: "https://bucket.test/" + fileName, ImageID: "img-" + fileName}, nil
}

func (b *fakeBackend) PutBytes(_ context.Context, uploadURL, contentType string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts = append(b.puts, uploadURL+" "+contentType)
	for name, err := range b.putErr {
		if uploadURL == "https://bucket.test/"+name {
			return err
		}
	}
	return nil
}

func (b *fakeBackend) CancelUpload(_ context.Context, roomID, imageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, roomID+"/"+imageID)
	return b.cancelErr
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests) + len(b.puts) + len(b.cancels)
}

func images(names ...string) []File {
	files := make([]File, len(names))
	for i, n := range names {
		files[i] = File{Name: n, ContentType: "image/png", Data: []byte("x")}
	}
	return files
}

func newChat(b Backend) *Coordinator {
	return NewCoordinator(ScopeChat, "42", DefaultLimits().Chat, b, nil, zap.NewNop())
}

func TestSelectUploadsEveryFile(t *testing.T) {
	backend := &fakeBackend{}
	c := newChat(backend)

	got, err := c.Select(context.Background(), images("a.png", "b.png"))

	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, a := range got {
		assert.Equal(t, StatusReady, a.Status)
		assert.NotEmpty(t, a.LocalRef)
	}
	assert.ElementsMatch(t, []string{"chat/42/a.png", "chat/42/b.png"}, backend.requests)
	assert.Equal(t, []string{"img-a.png", "img-b.png"}, c.ReadyIDs())
}

func TestSixthAttachmentRejectedBeforeNetwork(t *testing.T) {
	backend := &fakeBackend{}
	c := newChat(backend)
	_, err := c.Select(context.Background(), images("1", "2", "3", "4", "5"))
	require.NoError(t, err)
	before := backend.calls()

	got, err := c.Select(context.Background(), images("6"))

	var vErr *chaterr.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Nil(t, got)
	assert.Equal(t, before, backend.calls(), "no network call for a rejected selection")
	assert.Len(t, c.Pending(), 5)
}

func TestLimitsPerScope(t *testing.T) {
	l := DefaultLimits()
	assert.Equal(t, 5, l.For(ScopeChat))
	assert.Equal(t, 3, l.For(ScopePost))
	assert.Equal(t, 3, l.For(ScopePortfolio))

	c := NewCoordinator(ScopePost, "p1", l.For(ScopePost), &fakeBackend{}, nil, zap.NewNop())
	_, err := c.Select(context.Background(), images("1", "2", "3", "4"))
	var vErr *chaterr.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestNonImageRejected(t *testing.T) {
	backend := &fakeBackend{}
	c := newChat(backend)

	_, err := c.Select(context.Background(), []File{
		{Name: "a.png", ContentType: "image/png"},
		{Name: "notes.txt", Data: []byte("plain text")},
	})

	var vErr *chaterr.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "notes.txt")
	assert.Zero(t, backend.calls())
	assert.Empty(t, c.Pending())
}

func TestContentTypeDetectedFromBytes(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	backend := &fakeBackend{}
	c := newChat(backend)

	got, err := c.Select(context.Background(), []File{{Name: "pic", Data: png}})

	require.NoError(t, err)
	assert.Equal(t, "image/png", got[0].ContentType)
	assert.Equal(t, []string{"https://bucket.test/pic image/png"}, backend.puts)
}

func TestPerFileFailureDoesNotAbortOthers(t *testing.T) {
	backend := &fakeBackend{
		requestErr: map[string]error{"bad.png": errors.New("no target")},
		putErr:     map[string]error{"slow.png": &chaterr.APIError{Op: "put", Status: 403}},
	}
	c := newChat(backend)

	got, err := c.Select(context.Background(), images("ok.png", "bad.png", "slow.png"))

	require.Error(t, err)
	var reqErr *chaterr.UploadRequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "bad.png", reqErr.FileName)
	var xferErr *chaterr.UploadTransferError
	require.ErrorAs(t, err, &xferErr)
	assert.Equal(t, "slow.png", xferErr.FileName)
	assert.Equal(t, 403, xferErr.Status)

	assert.Equal(t, StatusReady, got[0].Status)
	assert.Equal(t, StatusFailed, got[1].Status)
	assert.Equal(t, StatusFailed, got[2].Status)
	assert.Equal(t, []string{"img-ok.png"}, c.ReadyIDs())

	// Failed attachments do not count against the limit.
	_, err = c.Select(context.Background(), images("2", "3", "4", "5"))
	assert.NoError(t, err)
}

func TestCancelReadyAttachmentCancelsRemotely(t *testing.T) {
	backend := &fakeBackend{}
	c := newChat(backend)
	got, err := c.Select(context.Background(), images("a.png", "b.png"))
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), got[0].LocalRef))

	assert.Equal(t, []string{"42/img-a.png"}, backend.cancels)
	assert.Equal(t, []string{"img-b.png"}, c.ReadyIDs())
}

func TestCancelRemoteFailureStillRemovesLocally(t *testing.T) {
	backend := &fakeBackend{cancelErr: errors.New("gone")}
	c := newChat(backend)
	got, err := c.Select(context.Background(), images("a.png"))
	require.NoError(t, err)

	err = c.Cancel(context.Background(), got[0].LocalRef)

	require.Error(t, err)
	assert.Empty(t, c.Pending())
}

func TestCancelWithoutRemoteIDIsLocalOnly(t *testing.T) {
	backend := &fakeBackend{requestErr: map[string]error{"a.png": errors.New("boom")}}
	c := newChat(backend)
	got, _ := c.Select(context.Background(), images("a.png"))

	require.NoError(t, c.Cancel(context.Background(), got[0].LocalRef))
	assert.Empty(t, backend.cancels)
	assert.Empty(t, c.Pending())
}

func TestCancelPostAttachmentIsLocalOnly(t *testing.T) {
	backend := &fakeBackend{}
	c := NewCoordinator(ScopePortfolio, "9", 3, backend, nil, zap.NewNop())
	got, err := c.Select(context.Background(), images("a.png"))
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), got[0].LocalRef))
	assert.Empty(t, backend.cancels)
}

func TestCancelUnknownRef(t *testing.T) {
	c := newChat(&fakeBackend{})
	var vErr *chaterr.ValidationError
	assert.ErrorAs(t, c.Cancel(context.Background(), "nope"), &vErr)
}

func TestClearSentPublishesChange(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("upload.", 16)
	defer unsub()
	c := NewCoordinator(ScopeChat, "42", 5, &fakeBackend{}, b, zap.NewNop())
	_, err := c.Select(context.Background(), images("a.png"))
	require.NoError(t, err)

	c.ClearSent(c.ReadyIDs())

	assert.Empty(t, c.Pending())
	var last Change
	for len(events) > 0 {
		last = (<-events).Payload.(Change)
	}
	assert.Equal(t, "42", last.OwnerID)
	assert.Empty(t, last.Attachments)
}

func TestClearSentKeepsFailedAttachments(t *testing.T) {
	backend := &fakeBackend{requestErr: map[string]error{"bad.png": errors.New("no target")}}
	c := newChat(backend)
	_, _ = c.Select(context.Background(), images("ok.png", "bad.png"))

	c.ClearSent(c.ReadyIDs())

	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "bad.png", pending[0].FileName)
	assert.Equal(t, StatusFailed, pending[0].Status)
}

// gatedBackend blocks PutBytes for one file until release is closed.
type gatedBackend struct {
	fakeBackend
	gated   string
	started chan struct{}
	release chan struct{}
}

func (b *gatedBackend) PutBytes(ctx context.Context, uploadURL, contentType string, data []byte) error {
	if uploadURL == "https://bucket.test/"+b.gated {
		close(b.started)
		<-b.release
	}
	return b.fakeBackend.PutBytes(ctx, uploadURL, contentType, data)
}

func TestClearSentKeepsAttachmentsStillUploading(t *testing.T) {
	backend := &gatedBackend{
		gated:   "slow.png",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := newChat(backend)
	_, err := c.Select(context.Background(), images("fast.png"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Select(context.Background(), images("slow.png"))
		done <- err
	}()
	<-backend.started

	sent := c.ReadyIDs()
	c.ClearSent(sent)
	close(backend.release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"img-fast.png"}, sent)
	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "slow.png", pending[0].FileName)
	assert.Equal(t, StatusReady, pending[0].Status)
	assert.Equal(t, []string{"img-slow.png"}, c.ReadyIDs())
	assert.Empty(t, backend.cancels)
}

func TestSelectWithoutOwner(t *testing.T) {
	backend := &fakeBackend{}
	c := NewCoordinator(ScopeChat, "", 5, backend, nil, zap.NewNop())

	_, err := c.Select(context.Background(), images("a.png"))

	var vErr *chaterr.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Zero(t, backend.calls())
}
