package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/pkg/types"
)

const testSecret = "test-secret-0123456789"

func newPair(t *testing.T) (*Issuer, *Verifier) {
	t.Helper()
	iss, err := NewIssuer(testSecret, "studysync")
	require.NoError(t, err)
	ver, err := NewVerifier(testSecret, "studysync")
	require.NoError(t, err)
	return iss, ver
}

func TestVerifier_RoundTrip(t *testing.T) {
	iss, ver := newPair(t)

	for _, id := range []types.Identity{
		{UserID: "teacher-1", Role: types.RoleTeacher},
		{UserID: "participant_7", Role: types.RoleParticipant},
	} {
		token, err := iss.Issue(id, time.Hour)
		require.NoError(t, err)

		got, err := ver.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestVerifier_Expired(t *testing.T) {
	iss, ver := newPair(t)
	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := iss.Issue(types.Identity{UserID: "T", Role: types.RoleTeacher}, time.Hour)
	require.NoError(t, err)

	_, err = ver.Verify(token)
	assert.ErrorIs(t, err, types.ErrExpiredCredential)
	assert.NotErrorIs(t, err, types.ErrInvalidCredential)
}

func TestVerifier_Invalid(t *testing.T) {
	iss, ver := newPair(t)
	valid, err := iss.Issue(types.Identity{UserID: "T", Role: types.RoleTeacher}, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewIssuer("another-secret-9876543210", "studysync")
	require.NoError(t, err)
	forged, err := otherIssuer.Issue(types.Identity{UserID: "T", Role: types.RoleTeacher}, time.Hour)
	require.NoError(t, err)

	foreign, err := NewIssuer(testSecret, "someone-else")
	require.NoError(t, err)
	wrongIssuer, err := foreign.Issue(types.Identity{UserID: "T", Role: types.RoleTeacher}, time.Hour)
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "T",
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "studysync",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "teacher",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "studysync",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID: "T",
		Role:   "teacher",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "studysync",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"truncated":    valid[:len(valid)-5],
		"wrong secret": forged,
		"wrong issuer": wrongIssuer,
		"unknown role": badRole,
		"missing user": noUser,
		"wrong alg":    hs512,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ver.Verify(token)
			assert.ErrorIs(t, err, types.ErrInvalidCredential)
		})
	}
}

func TestVerifier_ExpiredForgedIsInvalid(t *testing.T) {
	_, ver := newPair(t)
	forged, err := NewIssuer("another-secret-9876543210", "studysync")
	require.NoError(t, err)
	forged.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := forged.Issue(types.Identity{UserID: "T", Role: types.RoleTeacher}, time.Hour)
	require.NoError(t, err)

	_, err = ver.Verify(token)
	assert.ErrorIs(t, err, types.ErrInvalidCredential)
}

func TestNewVerifier_RejectsShortSecret(t *testing.T) {
	_, err := NewVerifier("short", "")
	assert.ErrorIs(t, err, ErrWeakSecret)

	_, err = NewIssuer("short", "")
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestIssuer_RejectsNonPositiveTTL(t *testing.T) {
	iss, _ := newPair(t)
	_, err := iss.Issue(types.Identity{UserID: "T", Role: types.RoleTeacher}, 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}
