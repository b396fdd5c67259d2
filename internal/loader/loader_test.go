package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kumascript/internal/cache"
	"kumascript/internal/common/errors"
	khttp "kumascript/internal/common/http"
	"kumascript/internal/execution"
	"kumascript/internal/script"
)

func render(t *testing.T, l execution.Loader, name string, args ...interface{}) (string, []error) {
	t.Helper()
	ec := execution.New(execution.Config{LineageID: "loader-test", Loader: l})
	out := ec.Template(context.Background(), name, args)
	return out, ec.Errors()
}

func TestMemory(t *testing.T) {
	store := NewMemory()
	require.NoError(t, store.Add("Greeting", script.KindJS, `print("hi " + $0)`))

	src, err := store.Fetch(context.Background(), "greeting")
	require.NoError(t, err)
	assert.Equal(t, script.KindJS, src.Kind)

	_, err = store.Fetch(context.Background(), "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	assert.Error(t, store.Add("../escape", script.KindJS, ""))
	assert.Error(t, store.Add(" ", script.KindJS, ""))
}

func TestLoader_CompilesSource(t *testing.T) {
	store := NewMemory()
	require.NoError(t, store.Add("greeting", script.KindJS, `print("hi " + $0)`))
	require.NoError(t, store.Add("broken", script.KindJS, `function (`))

	out, errs := render(t, New(store), "Greeting", "ann")
	assert.Equal(t, "hi ann", out)
	assert.Empty(t, errs)

	out, errs = render(t, New(store), "broken")
	assert.Equal(t, "", out)
	require.Len(t, errs, 1)
	assert.True(t, errors.IsType(errs[0], errors.ErrTypeTemplateLoad))
	assert.True(t, errors.IsType(errs[0], errors.ErrTypeValidation))
}

func TestFS(t *testing.T) {
	fsys := fstest.MapFS{
		"greeting.js":     {Data: []byte(`print("js " + $0)`)},
		"greeting.tmpl":   {Data: []byte(`tmpl {{ arg 0 }}`)},
		"banner.tmpl":     {Data: []byte(`banner {{ arg 0 }}`)},
		"nested/item.js":  {Data: []byte(`"item"`)},
		"notes/readme.md": {Data: []byte(`ignored`)},
	}
	store := NewFS(fsys)

	src, err := store.Fetch(context.Background(), "Greeting")
	require.NoError(t, err)
	assert.Equal(t, script.KindJS, src.Kind, "js wins over tmpl")

	src, err = store.Fetch(context.Background(), "banner")
	require.NoError(t, err)
	assert.Equal(t, script.KindTemplate, src.Kind)

	_, err = store.Fetch(context.Background(), "nested/item")
	assert.NoError(t, err)

	_, err = store.Fetch(context.Background(), "notes/readme")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = store.Fetch(context.Background(), "../etc/passwd")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	out, errs := render(t, New(store), "banner", "x")
	assert.Equal(t, "banner x", out)
	assert.Empty(t, errs)
}

func TestNewDir(t *testing.T) {
	_, err := NewDir("/definitely/not/here")
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	store, err := NewDir(t.TempDir())
	require.NoError(t, err)
	_, err = store.Fetch(context.Background(), "anything")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestChain(t *testing.T) {
	first := NewMemory()
	second := NewMemory()
	require.NoError(t, first.Add("a", script.KindJS, `"first a"`))
	require.NoError(t, second.Add("a", script.KindJS, `"second a"`))
	require.NoError(t, second.Add("b", script.KindJS, `"second b"`))

	chain := Chain{first, second}

	src, err := chain.Fetch(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, `"first a"`, src.Text)

	src, err = chain.Fetch(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, `"second b"`, src.Text)

	_, err = chain.Fetch(context.Background(), "c")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = chain.Fetch(context.Background(), "../c")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func newTemplateServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/templates/greeting":
			w.Header().Set(KindHeader, "js")
			_, _ = w.Write([]byte(`print("remote " + $0)`))
		case "/templates/card.tmpl":
			_, _ = w.Write([]byte(`card {{ arg 0 }}`))
		case "/templates/flaky":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTP_Fetch(t *testing.T) {
	var hits atomic.Int32
	server := newTemplateServer(t, &hits)

	store, err := NewHTTP(server.URL+"/templates/", nil, cache.NewMemory(), time.Minute)
	require.NoError(t, err)

	src, err := store.Fetch(context.Background(), "Greeting")
	require.NoError(t, err)
	assert.Equal(t, script.KindJS, src.Kind)
	assert.Equal(t, "Greeting", src.Name)

	_, err = store.Fetch(context.Background(), "greeting")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second fetch is served from the cache")

	src, err = store.Fetch(context.Background(), "card.tmpl")
	require.NoError(t, err)
	assert.Equal(t, script.KindTemplate, src.Kind)

	_, err = store.Fetch(context.Background(), "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = store.Fetch(context.Background(), "flaky")
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))

	out, errs := render(t, New(store), "greeting", "hello")
	assert.Equal(t, "remote hello", out)
	assert.Empty(t, errs)
}

func TestHTTP_SharedRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var hits atomic.Int32
	server := newTemplateServer(t, &hits)

	sourceCache := cache.NewRedis(rdb, "kumascript:")
	first, err := NewHTTP(server.URL+"/templates", khttp.NewFetcher(nil, nil), sourceCache, time.Minute)
	require.NoError(t, err)
	second, err := NewHTTP(server.URL+"/templates", khttp.NewFetcher(nil, nil), sourceCache, time.Minute)
	require.NoError(t, err)

	_, err = first.Fetch(context.Background(), "greeting")
	require.NoError(t, err)

	src, err := second.Fetch(context.Background(), "greeting")
	require.NoError(t, err)
	assert.Equal(t, script.KindJS, src.Kind)
	assert.Equal(t, `print("remote " + $0)`, src.Text)
	assert.Equal(t, int32(1), hits.Load())

	assert.True(t, mr.Exists("kumascript:template:greeting"))
	assert.Greater(t, mr.TTL("kumascript:template:greeting"), time.Duration(0))
}

func TestNewHTTP_InvalidURL(t *testing.T) {
	_, err := NewHTTP("not a url", nil, nil, 0)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

type countingLoader struct {
	next  execution.Loader
	calls atomic.Int32
}

func (c *countingLoader) Resolve(ctx context.Context, name string) (execution.Unit, error) {
	c.calls.Add(1)
	return c.next.Resolve(ctx, name)
}

func TestCached(t *testing.T) {
	store := NewMemory()
	require.NoError(t, store.Add("greeting", script.KindJS, `"hi"`))
	counting := &countingLoader{next: New(store)}
	cached := NewCached(counting, time.Minute)

	for i := 0; i < 3; i++ {
		out, errs := render(t, cached, "Greeting")
		assert.Equal(t, "hi", out)
		assert.Empty(t, errs)
	}
	assert.Equal(t, int32(1), counting.calls.Load())
	assert.Equal(t, 1, cached.Len())

	_, errs := render(t, cached, "missing")
	require.Len(t, errs, 1)
	_, _ = render(t, cached, "missing")
	assert.Equal(t, int32(3), counting.calls.Load(), "failures are not cached")

	require.NoError(t, store.Add("greeting", script.KindJS, `"hello"`))
	cached.Invalidate("GREETING")
	out, _ := render(t, cached, "greeting")
	assert.Equal(t, "hello", out)

	cached.Flush()
	assert.Equal(t, 0, cached.Len())
}

func TestCached_Expiry(t *testing.T) {
	store := NewMemory()
	require.NoError(t, store.Add("greeting", script.KindJS, `"hi"`))
	counting := &countingLoader{next: New(store)}
	cached := NewCached(counting, 20*time.Millisecond)

	_, _ = render(t, cached, "greeting")
	time.Sleep(50 * time.Millisecond)
	_, _ = render(t, cached, "greeting")

	assert.Equal(t, int32(2), counting.calls.Load())
}
