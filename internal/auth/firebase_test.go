package auth

import (
	"context"
	"errors"
	"testing"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
)

type fakeIDTokens struct {
	token *fbauth.Token
	err   error
	seen  string
}

func (f *fakeIDTokens) VerifyIDToken(_ context.Context, idToken string) (*fbauth.Token, error) {
	f.seen = idToken
	return f.token, f.err
}

func TestFirebaseVerifyMapsClaims(t *testing.T) {
	fake := &fakeIDTokens{token: &fbauth.Token{
		UID: "firebase-uid",
		Claims: map[string]any{
			"email":   "bob@example.com",
			"name":    "Bob",
			"picture": "https://example.com/bob.png",
		},
	}}
	v := &FirebaseVerifier{client: fake}

	got, err := v.Verify(context.Background(), " id-token ")
	require.NoError(t, err)
	assert.Equal(t, "id-token", fake.seen)
	assert.Equal(t, user.Identity{
		SubjectID:   "firebase-uid",
		Email:       "bob@example.com",
		DisplayName: "Bob",
		PhotoURL:    "https://example.com/bob.png",
	}, got)
}

func TestFirebaseVerifyFailures(t *testing.T) {
	v := &FirebaseVerifier{client: &fakeIDTokens{err: errors.New("token expired")}}
	_, err := v.Verify(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	v = &FirebaseVerifier{client: &fakeIDTokens{token: &fbauth.Token{}}}
	_, err = v.Verify(context.Background(), "no-uid")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewFirebaseVerifierRequiresCredentials(t *testing.T) {
	_, err := NewFirebaseVerifier(context.Background(), "", "")
	assert.Error(t, err)
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFrom(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), user.Identity{SubjectID: "u"})
	id, ok := IdentityFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u", id.SubjectID)
}
