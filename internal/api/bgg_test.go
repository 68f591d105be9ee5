package api

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"playsync/internal/config"
	"playsync/internal/domain"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const playsPage = `<?xml version="1.0" encoding="utf-8"?>
<plays username="alice" userid="7" total="150" page="1">
  <play id="1001" date="2024-03-09" quantity="2" length="45" incomplete="0" nowinstats="1" location="Home">
    <item name="Catan" objecttype="thing" objectid="13">
      <subtypes><subtype value="boardgame"/></subtypes>
    </item>
    <comments>rematch</comments>
    <players>
      <player username="alice" userid="7" name="Alice" startposition="1" color="red" score="10" new="0" rating="0" win="1"/>
      <player username="" userid="0" name="Bob" startposition="2" color="blue" score="8" new="1" rating="6.5" win="0"/>
    </players>
  </play>
</plays>`

type fakeRemote struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(ctx *fasthttp.RequestCtx)
}

type recordedRequest struct {
	method string
	path   string
	query  url.Values
	form   url.Values
	cookie string
}

func newTestClient(t *testing.T, handler func(ctx *fasthttp.RequestCtx)) (*BGGClient, *fakeRemote) {
	t.Helper()

	remote := &fakeRemote{handler: handler}
	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: remote.serve}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	cfg := &config.Config{
		Username:    "alice",
		AuthCookie:  "bggpassword=secret",
		APIBaseURL:  "http://bgg.test",
		GeekPlayURL: "http://bgg.test/geekplay.php",
		Retry: config.RetryConfig{
			StillProcessing: config.ExponentialConfig{InitialWait: time.Millisecond, Multiplier: 2, MaxWait: 2 * time.Millisecond, MaxElapsed: 20 * time.Millisecond},
			RateLimited:     config.FixedConfig{Wait: time.Millisecond, MaxRetries: 4},
			Overloaded:      config.FixedConfig{Wait: time.Millisecond, MaxRetries: 1},
		},
	}
	client := &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
	return NewBGGClientWithDoer(cfg, client, zerolog.Nop()), remote
}

func (r *fakeRemote) serve(ctx *fasthttp.RequestCtx) {
	query, _ := url.ParseQuery(string(ctx.URI().QueryString()))
	form, _ := url.ParseQuery(string(ctx.PostBody()))

	r.mu.Lock()
	r.requests = append(r.requests, recordedRequest{
		method: string(ctx.Method()),
		path:   string(ctx.Path()),
		query:  query,
		form:   form,
		cookie: string(ctx.Request.Header.Peek("Cookie")),
	})
	r.mu.Unlock()

	r.handler(ctx)
}

func (r *fakeRemote) calls() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func formLines(form url.Values) []byte {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + "=" + form.Get(k) + "\n")
	}
	return []byte(b.String())
}

func goldenPlay(t *testing.T) *domain.Play {
	date, err := domain.ParseDate("2024-03-09")
	require.NoError(t, err)
	return &domain.Play{
		PlayID:   42,
		GameID:   13,
		Date:     date,
		Length:   60,
		Location: "Home",
		Quantity: 1,
		Comments: "close game",
		Players: []domain.Player{
			{Username: "alice", Name: "Alice", StartPosition: "1", Color: "red", Score: "10", Rating: 7.5, Win: true},
			{Name: "Bob", StartPosition: "2", Color: "blue", Score: "8", IsNew: true},
		},
	}
}

func TestEncodeUpsertForm_Golden(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "upsert_form", formLines(EncodeUpsertForm(goldenPlay(t))))
}

func TestEncodeDeleteForm_Golden(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "delete_form", formLines(EncodeDeleteForm(42)))
}

func TestEncodeUpsertForm_NewPlayHasNoPlayID(t *testing.T) {
	p := goldenPlay(t)
	p.PlayID = 0
	form := EncodeUpsertForm(p)
	_, ok := form["playid"]
	assert.False(t, ok)
}

func TestPlays_DecodesPage(t *testing.T) {
	client, remote := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("text/xml")
		ctx.SetBodyString(playsPage)
	})

	from, _ := domain.ParseDate("2024-01-01")
	resp, err := client.Plays(context.Background(), PlaysQuery{MinDate: from, Page: 1})
	require.NoError(t, err)

	assert.Equal(t, 150, resp.Total)
	assert.True(t, resp.HasMorePages())
	require.Len(t, resp.Plays, 1)

	p := resp.Plays[0]
	assert.Equal(t, 1001, p.ID)
	assert.Equal(t, "2024-03-09", p.Date)
	assert.Equal(t, 2, p.Quantity)
	assert.Equal(t, 1, p.NoWinStats)
	assert.Equal(t, "Catan", p.Item.Name)
	assert.Equal(t, 13, p.Item.ObjectID)
	require.Len(t, p.Item.Subtypes, 1)
	assert.Equal(t, "boardgame", p.Item.Subtypes[0].Value)
	assert.Equal(t, "rematch", p.Comments)
	require.Len(t, p.Players, 2)
	assert.Equal(t, 6.5, p.Players[1].Rating)

	calls := remote.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/xmlapi2/plays", calls[0].path)
	assert.Equal(t, "alice", calls[0].query.Get("username"))
	assert.Equal(t, "2024-01-01", calls[0].query.Get("mindate"))
	assert.Empty(t, calls[0].query.Get("maxdate"))
	assert.Equal(t, "1", calls[0].query.Get("page"))
	assert.Equal(t, "bggpassword=secret", calls[0].cookie)
}

func TestPlaysResponse_HasMorePages(t *testing.T) {
	assert.True(t, (&PlaysResponse{Page: 1, Total: 101}).HasMorePages())
	assert.False(t, (&PlaysResponse{Page: 1, Total: 100}).HasMorePages())
	assert.False(t, (&PlaysResponse{Page: 2, Total: 200}).HasMorePages())
	assert.False(t, (&PlaysResponse{Total: 0}).HasMorePages())
}

func TestPlays_RetriesStillProcessing(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	client, remote := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n < 3 {
			ctx.SetStatusCode(fasthttp.StatusAccepted)
			return
		}
		ctx.SetBodyString(playsPage)
	})

	resp, err := client.Plays(context.Background(), PlaysQuery{Page: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Plays, 1)
	assert.Len(t, remote.calls(), 3)
}

func TestPlays_AuthFailure(t *testing.T) {
	client, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	})

	_, err := client.Plays(context.Background(), PlaysQuery{Page: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
}

func TestPlays_ServerError(t *testing.T) {
	client, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	})

	_, err := client.Plays(context.Background(), PlaysQuery{Page: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrAuthFailed)
}

func TestSavePlay(t *testing.T) {
	client, remote := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"playid":"987","numplays":12,"html":"Logged play"}`)
	})

	resp, err := client.SavePlay(context.Background(), goldenPlay(t))
	require.NoError(t, err)
	assert.False(t, resp.HasError())
	assert.Equal(t, FlexInt(987), resp.PlayID)
	assert.Equal(t, FlexInt(12), resp.NumPlays)

	calls := remote.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, fasthttp.MethodPost, calls[0].method)
	assert.Equal(t, "/geekplay.php", calls[0].path)
	assert.Equal(t, "save", calls[0].form.Get("action"))
	assert.Equal(t, "42", calls[0].form.Get("playid"))
}

func TestSavePlay_ErrorClassification(t *testing.T) {
	client, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"error":"You must login to save plays"}`)
	})

	resp, err := client.SavePlay(context.Background(), goldenPlay(t))
	require.NoError(t, err)
	assert.True(t, resp.HasError())
	assert.True(t, resp.HasAuthError())
	assert.False(t, resp.HasInvalidIDError())
}

func TestDeletePlay(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantError   bool
		wantInvalid bool
	}{
		{"success", `{"success":true}`, false, false},
		{"invalid id", `{"error":"Invalid play ID"}`, true, true},
		{"invalid id lowercase", `{"error":"invalid playid"}`, true, true},
		{"other error", `{"error":"Something broke"}`, true, false},
		{"invalid session", `{"error":"Invalid session"}`, true, false},
		{"invalid request", `{"error":"Invalid request, please try again"}`, true, false},
		{"invalid date", `{"error":"Invalid date"}`, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, remote := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
				ctx.SetBodyString(tt.body)
			})

			resp, err := client.DeletePlay(context.Background(), 42)
			require.NoError(t, err)
			assert.Equal(t, tt.wantError, resp.HasError())
			assert.Equal(t, tt.wantInvalid, resp.HasInvalidIDError())

			calls := remote.calls()
			require.Len(t, calls, 1)
			assert.Equal(t, "delete", calls[0].form.Get("action"))
			assert.Equal(t, "42", calls[0].form.Get("playid"))
		})
	}
}

func TestFlexInt(t *testing.T) {
	var r PlaySaveResponse
	require.NoError(t, json.Unmarshal([]byte(`{"playid":17,"numplays":""}`), &r))
	assert.Equal(t, FlexInt(17), r.PlayID)
	assert.Equal(t, FlexInt(0), r.NumPlays)

	require.Error(t, json.Unmarshal([]byte(`{"playid":"abc"}`), &r))
}
