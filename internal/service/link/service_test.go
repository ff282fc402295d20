package link

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender    = domain.Principal{Email: "a@x.com", Role: domain.RoleMember, TenantIDs: []string{"t1"}}
	recipient = domain.Principal{Email: "b@x.com", Role: domain.RoleMember, TenantIDs: []string{"t1"}}
	outsider  = domain.Principal{Email: "e@x.com", Role: domain.RoleMember, TenantIDs: []string{"t1"}}
)

type stubUnfurler struct {
	preview Preview
	err     error
	calls   int
}

func (s *stubUnfurler) Unfurl(context.Context, string) (Preview, error) {
	s.calls++
	return s.preview, s.err
}

func setup(t *testing.T) (*memory.Store, *Service, int64) {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	m := &domain.Message{SenderEmail: "a@x.com", TenantID: "t1", Subject: "s", Body: "b",
		MessageType: domain.MessageDirect, Priority: domain.PriorityNormal}
	require.NoError(t, store.InsertMessage(ctx, m))
	require.NoError(t, store.InsertRecipients(ctx, m.ID, []string{"b@x.com"}))
	return store, NewService(store, nil), m.ID
}

func TestValidate(t *testing.T) {
	s := NewService(nil, []string{"localhost", "127.0.0.1", "::1", "*.local", "Blocked.Example"})

	tests := []struct {
		raw  string
		ok   bool
		host string
	}{
		{"https://example.com/a?b=1#frag", true, "example.com"},
		{"HTTP://Example.COM/Path", true, "example.com"},
		{"ftp://example.com", false, ""},
		{"example.com", false, ""},
		{"https://", false, ""},
		{"http://localhost:8080/x", false, ""},
		{"http://127.0.0.1/", false, ""},
		{"http://[::1]/", false, ""},
		{"http://printer.local/", false, ""},
		{"http://local/", false, ""},
		{"http://notlocal.com/", true, "notlocal.com"},
		{"https://blocked.example/", false, ""},
		{"http://127.0.0.2/", false, ""},
		{"http://127.1/", false, ""},
		{"http://2130706433/", false, ""},
		{"http://0x7f.1/", false, ""},
		{"http://[::ffff:127.0.0.2]/", false, ""},
		{"http://169.254.169.254/latest/meta-data/", false, ""},
		{"http://[fd00:ec2::254]/", false, ""},
		{"http://10.0.0.5/", false, ""},
		{"http://192.168.1.1/", false, ""},
		{"http://0.0.0.0/", false, ""},
		{"http://8.8.8.8/", true, "8.8.8.8"},
		{"http://v2.example.com/", true, "v2.example.com"},
		{"", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, host, err := s.Validate(tt.raw)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.host, host)
			} else {
				assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
			}
		})
	}

	normalized, _, err := s.Validate("HTTPS://Example.com/a#top")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", normalized)
}

func TestAddLink_UpdatesCounters(t *testing.T) {
	store, svc, msgID := setup(t)
	ctx := context.Background()

	l, err := svc.AddLink(ctx, recipient, msgID, Input{URL: "https://example.com/doc", Title: "Doc"})
	require.NoError(t, err)
	assert.Equal(t, "example.com", l.Domain)
	assert.Equal(t, "b@x.com", l.AddedBy)

	_, err = svc.AddLink(ctx, sender, msgID, Input{URL: "https://example.com/other", Title: "Other"})
	require.NoError(t, err)

	m, _ := store.GetMessage(ctx, msgID)
	assert.True(t, m.HasLinks)
	assert.Equal(t, 2, m.LinkCount)

	require.NoError(t, svc.RemoveLink(ctx, sender, l.ID))
	m, _ = store.GetMessage(ctx, msgID)
	assert.Equal(t, 1, m.LinkCount)

	links, err := svc.List(ctx, recipient, msgID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "https://example.com/other", links[0].URL)
}

func TestAddLink_DuplicateIsConflict(t *testing.T) {
	_, svc, msgID := setup(t)
	ctx := context.Background()

	_, err := svc.AddLink(ctx, sender, msgID, Input{URL: "https://example.com/x", Title: "x"})
	require.NoError(t, err)
	_, err = svc.AddLink(ctx, sender, msgID, Input{URL: "https://EXAMPLE.com/x#again", Title: "x"})
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)
}

func TestAddLink_Authorization(t *testing.T) {
	store, svc, msgID := setup(t)
	ctx := context.Background()

	_, err := svc.AddLink(ctx, outsider, msgID, Input{URL: "https://example.com", Title: "x"})
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	admin := domain.Principal{Email: "root@x.com", Role: domain.RoleAdmin, TenantIDs: []string{"t1"}}
	_, err = svc.AddLink(ctx, admin, msgID, Input{URL: "https://example.com", Title: "x"})
	assert.NoError(t, err)

	require.NoError(t, store.SoftDeleteMessage(ctx, msgID, time.Now()))
	_, err = svc.AddLink(ctx, sender, msgID, Input{URL: "https://example.org", Title: "x"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestAddLink_DeniedHostWritesNothing(t *testing.T) {
	store, svc, msgID := setup(t)
	_, err := svc.AddLink(context.Background(), sender, msgID, Input{URL: "http://localhost/admin"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, _, links, _ := store.CountRows(msgID)
	assert.Equal(t, 0, links)
}

func TestAddLink_UnfurlFillsBlanks(t *testing.T) {
	_, svc, msgID := setup(t)
	u := &stubUnfurler{preview: Preview{Title: "Fetched", Description: "About", ThumbnailURL: "https://cdn.example.com/t.png"}}
	svc.SetUnfurler(u, time.Second)
	ctx := context.Background()

	l, err := svc.AddLink(ctx, sender, msgID, Input{URL: "https://example.com/a", Description: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "Fetched", l.Title)
	assert.Equal(t, "mine", l.Description)
	assert.Equal(t, "https://cdn.example.com/t.png", l.ThumbnailURL)

	// a caller-supplied title skips the fetch
	_, err = svc.AddLink(ctx, sender, msgID, Input{URL: "https://example.com/b", Title: "Given"})
	require.NoError(t, err)
	assert.Equal(t, 1, u.calls)
}

func TestAddLink_UnfurlFailureIsIgnored(t *testing.T) {
	_, svc, msgID := setup(t)
	svc.SetUnfurler(&stubUnfurler{err: errors.New("timeout")}, time.Second)

	l, err := svc.AddLink(context.Background(), sender, msgID, Input{URL: "https://example.com/a"})
	require.NoError(t, err)
	assert.Empty(t, l.Title)
}

func TestAddLink_PersistenceFailure(t *testing.T) {
	store, svc, msgID := setup(t)
	store.Fail("InsertLink", errors.New("connection reset"))

	_, err := svc.AddLink(context.Background(), sender, msgID, Input{URL: "https://example.com/a"})
	assert.True(t, errors.Is(err, apperr.ErrPersistence))
}

func TestHTMLUnfurler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head>
<title>Plain   title</title>
<meta property="og:title" content="OG Title">
<meta name="description" content="A page">
<meta property="og:image" content="/img/cover.png">
</head><body></body></html>`))
	}))
	defer srv.Close()

	p, err := NewHTMLUnfurler(srv.Client()).Unfurl(context.Background(), srv.URL+"/post")
	require.NoError(t, err)
	assert.Equal(t, "OG Title", p.Title)
	assert.Equal(t, "A page", p.Description)
	assert.Equal(t, srv.URL+"/img/cover.png", p.ThumbnailURL)
}

func TestHTMLUnfurler_FallsBackToTitleTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>
  Only   title </title></head></html>`))
	}))
	defer srv.Close()

	p, err := NewHTMLUnfurler(srv.Client()).Unfurl(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Only title", p.Title)
	assert.Empty(t, p.ThumbnailURL)
}

func TestGuardedClient_RefusesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("internal"))
	}))
	defer srv.Close()

	_, err := GuardedClient(time.Second).Get(srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked address")
}

func TestCheckRedirect(t *testing.T) {
	newReq := func(target string) *http.Request {
		req, err := http.NewRequest(http.MethodGet, target, nil)
		require.NoError(t, err)
		return req
	}
	via := []*http.Request{newReq("https://example.com/")}
	for _, target := range []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://127.0.0.1:8080/admin",
		"http://127.1/",
		"file:///etc/passwd",
	} {
		assert.Error(t, checkRedirect(newReq(target), via), target)
	}
	ok := newReq("https://example.org/next")
	assert.NoError(t, checkRedirect(ok, via))
	assert.Error(t, checkRedirect(ok, make([]*http.Request, maxRedirects)))
}

func TestHTMLUnfurler_RejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	_, err := NewHTMLUnfurler(srv.Client()).Unfurl(context.Background(), srv.URL)
	assert.Error(t, err)
}
