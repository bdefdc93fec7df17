package http_test

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/basvanbeek/hubstep/pkg"
	hshttp "github.com/basvanbeek/hubstep/pkg/http"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		address string
		target  error
		valid   bool
	}{
		{"ok", ":8000", nil, true},
		{"host and port", "localhost:80", nil, true},
		{"missing port", "localhost", nil, false},
		{"empty", "", pkg.ErrRequired, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &hshttp.Service{ListenAddress: tt.address}
			err := s.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, pkg.HasError(err, tt.target))
			}
		})
	}
}

func TestFlagSet(t *testing.T) {
	s := &hshttp.Service{}
	require.NoError(t, s.FlagSet().Parse([]string{"--http-h2c", "-a", "127.0.0.1:9000"}))

	assert.True(t, s.H2C)
	assert.Equal(t, "127.0.0.1:9000", s.ListenAddress)
}

func start(t *testing.T, s *hshttp.Service) string {
	t.Helper()
	s.ListenAddress = "127.0.0.1:0"
	require.NoError(t, s.PreRun())

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	t.Cleanup(func() {
		s.GracefulStop()
		assert.NoError(t, <-done)
	})
	return s.Addr().String()
}

func protoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, r.Proto)
	})
}

func TestServeHTTP1(t *testing.T) {
	addr := start(t, &hshttp.Service{Handler: protoHandler()})

	res, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, "HTTP/1.1", string(body))
}

func TestServeH2C(t *testing.T) {
	addr := start(t, &hshttp.Service{Handler: protoHandler(), H2C: true})

	client := &http.Client{Transport: &http2.Transport{
		AllowHTTP: true,
		DialTLS: func(network, addr string, _ *tls.Config) (net.Conn, error) {
			return net.Dial(network, addr)
		},
	}}
	res, err := client.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, "HTTP/2.0", string(body))
}

func TestNoHandler(t *testing.T) {
	addr := start(t, &hshttp.Service{})

	res, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	_ = res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
