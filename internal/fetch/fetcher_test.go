package fetch

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateResolvedIP_Loopback(t *testing.T) {
	assert.Error(t, validateResolvedIP(net.ParseIP("127.0.0.1")))
	assert.Error(t, validateResolvedIP(net.ParseIP("127.255.255.255")))
}

func TestValidateResolvedIP_Private10(t *testing.T) {
	assert.Error(t, validateResolvedIP(net.ParseIP("10.0.0.1")))
	assert.Error(t, validateResolvedIP(net.ParseIP("10.255.255.255")))
}

func TestValidateResolvedIP_Private172(t *testing.T) {
	assert.Error(t, validateResolvedIP(net.ParseIP("172.16.0.1")))
	assert.Error(t, validateResolvedIP(net.ParseIP("172.31.255.255")))
	assert.NoError(t, validateResolvedIP(net.ParseIP("172.32.0.1")))
	assert.NoError(t, validateResolvedIP(net.ParseIP("172.15.255.255")))
}

func TestValidateResolvedIP_Private192(t *testing.T) {
	assert.Error(t, validateResolvedIP(net.ParseIP("192.168.0.1")))
	assert.Error(t, validateResolvedIP(net.ParseIP("192.168.255.255")))
}

func TestValidateResolvedIP_LinkLocal(t *testing.T) {
	assert.Error(t, validateResolvedIP(net.ParseIP("169.254.0.1")))
	assert.Error(t, validateResolvedIP(net.ParseIP("169.254.169.254")))
}

func TestValidateResolvedIP_CGNAT(t *testing.T) {
	assert.Error(t, validateResolvedIP(net.ParseIP("100.64.0.1")))
	assert.Error(t, validateResolvedIP(net.ParseIP("100.127.255.255")))
	assert.NoError(t, validateResolvedIP(net.ParseIP("100.63.255.255")))
	assert.NoError(t, validateResolvedIP(net.ParseIP("100.128.0.1")))
}

func TestValidateResolvedIP_Unspecified(t *testing.T) {
	assert.Error(t, validateResolvedIP(net.ParseIP("0.0.0.0")))
}

func TestValidateResolvedIP_IPv6Loopback(t *testing.T) {
	assert.Error(t, validateResolvedIP(net.ParseIP("::1")))
}

func TestValidateResolvedIP_IPv6LinkLocal(t *testing.T) {
	assert.Error(t, validateResolvedIP(net.ParseIP("fe80::1")))
}

func TestValidateResolvedIP_IPv6UniqueLocal(t *testing.T) {
	assert.Error(t, validateResolvedIP(net.ParseIP("fc00::1")))
	assert.Error(t, validateResolvedIP(net.ParseIP("fd12:3456::1")))
}

func TestValidateResolvedIP_PublicAllowed(t *testing.T) {
	assert.NoError(t, validateResolvedIP(net.ParseIP("8.8.8.8")))
	assert.NoError(t, validateResolvedIP(net.ParseIP("1.1.1.1")))
}

func TestValidateURL_DeniedHostnames(t *testing.T) {
	_, err := validateURL("http://localhost/secret")
	assert.Error(t, err)
}

func TestValidateURL_DisallowedScheme(t *testing.T) {
	_, err := validateURL("ftp://example.com/file")
	assert.Error(t, err)
}

func TestValidateURL_LiteralPrivateIP(t *testing.T) {
	_, err := validateURL("http://169.254.169.254/latest/meta-data")
	assert.Error(t, err)
}

func TestDedup(t *testing.T) {
	in := []string{"http://a", "http://b", "http://a", "http://c"}
	out := dedup(in)
	assert.Equal(t, []string{"http://a", "http://b", "http://c"}, out)
}

// allowLoopback lets the fetcher reach an httptest server on 127.0.0.1 for
// the duration of one test; every other address check stays in force.
func allowLoopback(t *testing.T) {
	t.Helper()
	prev := checkIP
	checkIP = func(ip net.IP) error {
		if ip.IsLoopback() {
			return nil
		}
		return prev(ip)
	}
	t.Cleanup(func() { checkIP = prev })
}

func TestFetchBatch_Success(t *testing.T) {
	allowLoopback(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := New(Config{})
	res := f.FetchBatch(t.Context(), []string{srv.URL})
	require.Empty(t, res.Errors)
	require.Contains(t, res.Results, srv.URL)
	assert.Equal(t, "hello", string(res.Results[srv.URL].Body))
}

func TestFetchBatch_TooLarge(t *testing.T) {
	allowLoopback(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, MaxBodyBytes+1))
	}))
	defer srv.Close()

	f := New(Config{})
	res := f.FetchBatch(t.Context(), []string{srv.URL})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrorTooLarge, res.Errors[0].Kind)
}

func TestFetchBatch_RedirectLimit(t *testing.T) {
	allowLoopback(t)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/next", http.StatusFound)
	}))
	defer srv.Close()

	f := New(Config{})
	res := f.FetchBatch(t.Context(), []string{srv.URL})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrorRedirectLimit, res.Errors[0].Kind)
}

func TestFetchBatch_PartialSuccess(t *testing.T) {
	allowLoopback(t)
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer ok.Close()

	f := New(Config{})
	res := f.FetchBatch(t.Context(), []string{ok.URL, "http://localhost/blocked"})
	assert.Len(t, res.Results, 1)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, ErrorSSRFBlocked, res.Errors[0].Kind)
}
