package token

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// permErr mimics a rejected-credentials issuance error.
type permErr struct{}

func (permErr) Error() string   { return "invalid client" }
func (permErr) Permanent() bool { return true }

func writeToken(t *testing.T, path string, expiresIn time.Duration) Token {
	t.Helper()

	tok := Token{
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(expiresIn).Unix(),
		Secret:    "secret",
	}
	require.NoError(t, Save(path, tok))

	return tok
}

func TestChecker_ValidTokenInvokesOnValid(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		writeToken(t, path, time.Hour)

		ctrl := gomock.NewController(t)
		issuer := NewMockIssuer(ctrl)
		// Token is fresh; no issue call expected.

		var valid atomic.Int32
		c := NewChecker(path, 10*time.Minute, issuer, func() { valid.Add(1) }, testLogger)
		c.Start(time.Second)
		defer c.Stop()

		time.Sleep(2 * time.Second)
		synctest.Wait()

		assert.Equal(t, int32(1), valid.Load())
		assert.True(t, c.Running())
	})
}

func TestChecker_ReissuesExpiringToken(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		// Inside the expiry horizon, so the first check must reissue.
		writeToken(t, path, time.Minute)

		fresh := Token{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
			Secret:    "fresh",
		}

		ctrl := gomock.NewController(t)
		issuer := NewMockIssuer(ctrl)
		issuer.EXPECT().Issue(gomock.Any()).Return(fresh, nil)

		c := NewChecker(path, 10*time.Minute, issuer, nil, testLogger)
		c.Start(time.Second)
		defer c.Stop()

		time.Sleep(2 * time.Second)
		synctest.Wait()

		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "fresh", got.Secret)
	})
}

func TestChecker_ReissuesMissingToken(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")

		fresh := Token{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
			Secret:    "fresh",
		}

		ctrl := gomock.NewController(t)
		issuer := NewMockIssuer(ctrl)
		issuer.EXPECT().Issue(gomock.Any()).Return(fresh, nil)

		c := NewChecker(path, 10*time.Minute, issuer, nil, testLogger)
		c.Start(time.Second)
		defer c.Stop()

		time.Sleep(2 * time.Second)
		synctest.Wait()

		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, fresh, got)
	})
}

// The next check lands when the token expires rather than a full
// interval later.
func TestChecker_NextCheckTracksExpiry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		// Expires in 7 minutes: outside the 5 minute horizon now, but
		// closer than the 10 minute interval.
		writeToken(t, path, 7*time.Minute)

		fresh := Token{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(2 * time.Hour).Unix(),
			Secret:    "fresh",
		}

		ctrl := gomock.NewController(t)
		issuer := NewMockIssuer(ctrl)
		issuer.EXPECT().Issue(gomock.Any()).Return(fresh, nil)

		c := NewChecker(path, 10*time.Minute, issuer, nil, testLogger)
		c.Start(0)
		defer c.Stop()

		// First check: token is fine, nothing issued yet.
		time.Sleep(time.Second)
		synctest.Wait()

		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "secret", got.Secret)

		// By the rescheduled check the token is expired and gets
		// replaced. A full interval has not passed.
		time.Sleep(8 * time.Minute)
		synctest.Wait()

		got, err = Load(path)
		require.NoError(t, err)
		assert.Equal(t, "fresh", got.Secret)
	})
}

func TestChecker_PermanentFailureStops(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")

		ctrl := gomock.NewController(t)
		issuer := NewMockIssuer(ctrl)
		issuer.EXPECT().Issue(gomock.Any()).Return(Token{}, permErr{})

		c := NewChecker(path, 10*time.Minute, issuer, nil, testLogger)
		c.Start(time.Second)

		time.Sleep(2 * time.Second)
		synctest.Wait()

		assert.False(t, c.Running())

		// No further checks fire, no matter how long we wait.
		time.Sleep(time.Hour)
		synctest.Wait()
	})
}

func TestChecker_TransientFailureRetriesFast(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")

		fresh := Token{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
			Secret:    "fresh",
		}

		ctrl := gomock.NewController(t)
		issuer := NewMockIssuer(ctrl)
		gomock.InOrder(
			issuer.EXPECT().Issue(gomock.Any()).Return(Token{}, errors.New("connection refused")),
			issuer.EXPECT().Issue(gomock.Any()).Return(fresh, nil),
		)

		// interval/5 = 2 minutes, capped to 60 seconds.
		c := NewChecker(path, 10*time.Minute, issuer, nil, testLogger)
		c.Start(0)
		defer c.Stop()

		time.Sleep(time.Second)
		synctest.Wait()

		_, err := Load(path)
		assert.Error(t, err, "first attempt failed, no token yet")

		time.Sleep(61 * time.Second)
		synctest.Wait()

		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "fresh", got.Secret)
	})
}

func TestChecker_StopCancelsPendingCheck(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		writeToken(t, path, time.Hour)

		ctrl := gomock.NewController(t)
		issuer := NewMockIssuer(ctrl)

		var valid atomic.Int32
		c := NewChecker(path, 10*time.Minute, issuer, func() { valid.Add(1) }, testLogger)
		c.Start(time.Minute)
		c.Stop()

		time.Sleep(time.Hour)
		synctest.Wait()

		assert.Zero(t, valid.Load())
		assert.False(t, c.Running())
	})
}

// Restarting the checker while a check is blocked inside the issuer
// must not leave two timer chains running.
func TestChecker_RestartDuringCheckLeavesOneTimerChain(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")

		fresh := Token{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
			Secret:    "fresh",
		}

		release := make(chan struct{})
		ctrl := gomock.NewController(t)
		issuer := NewMockIssuer(ctrl)
		issuer.EXPECT().Issue(gomock.Any()).DoAndReturn(func(context.Context) (Token, error) {
			<-release
			return fresh, nil
		})

		var valid atomic.Int32
		c := NewChecker(path, time.Minute, issuer, func() { valid.Add(1) }, testLogger)

		// No token on disk, so the first check blocks in the issuer.
		c.Start(0)
		synctest.Wait()

		c.Stop()
		c.Start(time.Minute)
		defer c.Stop()

		// The stranded check finishes its work (including onValid) but
		// must not reschedule.
		close(release)
		synctest.Wait()
		valid.Store(0)

		// From here only the restarted chain fires: one check per
		// interval, not two.
		time.Sleep(3*time.Minute + time.Second)
		synctest.Wait()

		assert.Equal(t, int32(3), valid.Load())
	})
}

func TestFastRetry(t *testing.T) {
	assert.Equal(t, 24*time.Second, fastRetry(2*time.Minute))
	assert.Equal(t, 60*time.Second, fastRetry(10*time.Minute))
}
