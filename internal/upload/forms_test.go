package upload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"go.uber.org/zap"
)

func TestFormsUseScopeLimits(t *testing.T) {
	backend := &fakeBackend{}
	forms := NewForms(Limits{Chat: 5, Post: 3, Portfolio: 2}, backend, nil, zap.NewNop())

	post, err := forms.Open(ScopePost, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, post.Limit())
	portfolio, err := forms.Open(ScopePortfolio, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, portfolio.Limit())

	_, err = post.Select(context.Background(), images("a.png", "b.png", "c.png"))
	require.NoError(t, err)
	_, err = post.Select(context.Background(), images("d.png"))
	var vErr *chaterr.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.ElementsMatch(t, []string{"post/p1/a.png", "post/p1/b.png", "post/p1/c.png"}, backend.requests)
}

func TestFormsReuseCoordinator(t *testing.T) {
	forms := NewForms(DefaultLimits(), &fakeBackend{}, nil, zap.NewNop())

	first, err := forms.Open(ScopePortfolio, "9")
	require.NoError(t, err)
	second, err := forms.Open(ScopePortfolio, "9")
	require.NoError(t, err)
	assert.Same(t, first, second)

	got, ok := forms.Get(ScopePortfolio, "9")
	assert.True(t, ok)
	assert.Same(t, first, got)
	_, ok = forms.Get(ScopePost, "9")
	assert.False(t, ok)
}

func TestFormsRejectChatScopeAndMissingOwner(t *testing.T) {
	forms := NewForms(DefaultLimits(), &fakeBackend{}, nil, zap.NewNop())
	var vErr *chaterr.ValidationError

	_, err := forms.Open(ScopeChat, "42")
	assert.ErrorAs(t, err, &vErr)
	_, err = forms.Open(ScopePost, "")
	assert.ErrorAs(t, err, &vErr)
	_, err = ParseScope("story")
	assert.ErrorAs(t, err, &vErr)
}
