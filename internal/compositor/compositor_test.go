package compositor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/worawit/docflow/internal/roster"
)

func twoPlacementRoster(t *testing.T) *roster.Roster {
	t.Helper()
	// The director signs in two places: the cover page and the last page.
	r, err := roster.New(
		roster.Entry{Order: 1, Role: roster.RoleAuthor, UserID: "u-author"},
		roster.Entry{Order: 3, Role: roster.RoleFinalSigner, UserID: "u-director"},
		roster.Entry{Order: 4, Role: roster.RoleFinalSigner, UserID: "u-director"},
	)
	require.NoError(t, err)
	require.NoError(t, r.PlacePosition(3, 1, 400, 120))
	require.NoError(t, r.PlacePosition(4, 3, 400, 700))
	return r
}

func TestBuildPayloadCommentOnlyOnFirstBlock(t *testing.T) {
	r := twoPlacementRoster(t)
	signer := Signer{FullName: "Somchai P.", Title: "Director"}

	blocks, err := BuildPayload(r, 3, signer, "proceed as proposed", time.Now())
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Equal(t, "proceed as proposed", blocks[0].Lines[0])
	for _, line := range blocks[1].Lines {
		assert.NotEqual(t, "proceed as proposed", line)
	}
	assert.Contains(t, blocks[1].Lines, "Somchai P.")
	assert.Contains(t, blocks[1].Lines, "Director")
}

func TestBuildPayloadWithoutPlacement(t *testing.T) {
	r, err := roster.New(
		roster.Entry{Order: 1, Role: roster.RoleAuthor, UserID: "u-author"},
		roster.Entry{Order: 4, Role: roster.RoleFinalSigner, UserID: "u-director"},
	)
	require.NoError(t, err)

	_, err = BuildPayload(r, 4, Signer{FullName: "Somchai P."}, "", time.Now())
	assert.ErrorIs(t, err, ErrNoPlacement)

	_, err = BuildPayload(r, 9, Signer{}, "", time.Now())
	assert.ErrorIs(t, err, roster.ErrUnknownSigner)
}

func TestSubmitConvertsPagesToZeroBased(t *testing.T) {
	var got []annotation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("annotations")), &got))
		f, _, err := r.FormFile("pdf")
		require.NoError(t, err)
		defer f.Close()
		pdf, err := io.ReadAll(f)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
		w.Write(append(pdf, []byte(" signed")...))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0, zap.NewNop())
	out, err := c.Submit(context.Background(), []byte("pdf"), []byte("sig"), []Block{
		{Page: 1, X: 10, Y: 20, Width: 120, Height: 60, Lines: []string{"a"}},
		{Page: 3, X: 30, Y: 40, Width: 120, Height: 60, Lines: []string{"b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf signed"), out)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Page)
	assert.Equal(t, 2, got[1].Page)
}

func TestSubmitDistinguishesErrors(t *testing.T) {
	boom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal stack trace", http.StatusInternalServerError)
	}))
	defer boom.Close()

	c := NewClient(boom.URL, time.Second, 2, zap.NewNop())
	_, err := c.Submit(context.Background(), []byte("pdf"), []byte("sig"), nil)
	assert.ErrorIs(t, err, ErrComposition)
	assert.NotErrorIs(t, err, ErrCompositionTimeout)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	ct := NewClient(slow.URL, 20*time.Millisecond, 0, zap.NewNop())
	_, err = ct.Submit(context.Background(), []byte("pdf"), []byte("sig"), nil)
	assert.ErrorIs(t, err, ErrCompositionTimeout)
}

func TestSubmitCallerCancellationIsNotRetried(t *testing.T) {
	var attempts int
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := NewClient(slow.URL, time.Second, 3, zap.NewNop())
	_, err := c.Submit(ctx, []byte("pdf"), []byte("sig"), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrCompositionTimeout)
	assert.Equal(t, 1, attempts)
}
