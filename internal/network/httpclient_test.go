// internal/network/httpclient_test.go
package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// -- Test Cases: Configuration and Defaults (ClientConfig) --

func TestNewDefaultClientConfig(t *testing.T) {
	config := NewDefaultClientConfig(zaptest.NewLogger(t))

	assert.Equal(t, DefaultRequestTimeout, config.RequestTimeout)
	assert.Zero(t, config.ResponseHeaderTimeout, "generation calls are bounded by the request timeout only")
	assert.Equal(t, DefaultMaxIdleConns, config.MaxIdleConns)
	assert.True(t, config.ForceHTTP2, "HTTP/2 should be preferred by default")
	assert.NotNil(t, config.Logger)
}

// Verifies the secure defaults of the TLS configuration helper.
func TestConfigureTLS_Defaults(t *testing.T) {
	config := NewDefaultClientConfig(nil)
	tlsConfig := configureTLS(config)

	require.NotNil(t, tlsConfig)
	assert.Equal(t, uint16(requiredMinTLSVersion), tlsConfig.MinVersion)
	assert.False(t, tlsConfig.InsecureSkipVerify)
	assert.Equal(t, defaultSecureCipherSuites, tlsConfig.CipherSuites)
	assert.NotNil(t, tlsConfig.ClientSessionCache, "TLS session cache should be enabled")
}

// Verifies a custom TLS config is cloned, merged with defaults and hardened.
func TestConfigureTLS_CustomConfig(t *testing.T) {
	t.Run("merge and override", func(t *testing.T) {
		customTLS := &tls.Config{ServerName: "custom.sni"}
		config := NewDefaultClientConfig(nil)
		config.TLSConfig = customTLS
		config.IgnoreTLSErrors = true

		tlsConfig := configureTLS(config)
		assert.Equal(t, "custom.sni", tlsConfig.ServerName)
		assert.Equal(t, uint16(requiredMinTLSVersion), tlsConfig.MinVersion)
		assert.NotEmpty(t, tlsConfig.CipherSuites)
		assert.True(t, tlsConfig.InsecureSkipVerify)
		assert.NotSame(t, customTLS, tlsConfig)
		assert.False(t, customTLS.InsecureSkipVerify, "Original object should not be modified")
	})

	t.Run("explicit values are kept", func(t *testing.T) {
		customCiphers := []uint16{tls.TLS_AES_256_GCM_SHA384}
		config := NewDefaultClientConfig(nil)
		config.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS13, CipherSuites: customCiphers}

		tlsConfig := configureTLS(config)
		assert.Equal(t, uint16(tls.VersionTLS13), tlsConfig.MinVersion)
		assert.Equal(t, customCiphers, tlsConfig.CipherSuites)
	})

	t.Run("weak minimum is raised", func(t *testing.T) {
		config := NewDefaultClientConfig(nil)
		config.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS10}
		assert.Equal(t, uint16(requiredMinTLSVersion), configureTLS(config).MinVersion)
	})
}

// -- Test Cases: Transport Creation (NewHTTPTransport) --

func TestNewHTTPTransport_ConfigurationMapping(t *testing.T) {
	config := NewDefaultClientConfig(nil)
	config.MaxIdleConns = 55
	config.IdleConnTimeout = 99 * time.Second
	config.DisableCompression = true
	config.ResponseHeaderTimeout = 5 * time.Second
	config.DisableKeepAlives = true

	transport := NewHTTPTransport(config)

	assert.Equal(t, 55, transport.MaxIdleConns)
	assert.Equal(t, 99*time.Second, transport.IdleConnTimeout)
	assert.True(t, transport.DisableCompression)
	assert.Equal(t, 5*time.Second, transport.ResponseHeaderTimeout)
	assert.True(t, transport.DisableKeepAlives)
}

func TestNewHTTPTransport_NilConfig(t *testing.T) {
	transport := NewHTTPTransport(nil)
	assert.Equal(t, DefaultMaxIdleConns, transport.MaxIdleConns)
	assert.NotNil(t, transport.DialContext)
	assert.NotNil(t, transport.TLSClientConfig)
}

func TestNewHTTPTransport_ProxyConfiguration(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.example.com:8080")
	config := NewDefaultClientConfig(nil)
	config.ProxyURL = proxyURL

	transport := NewHTTPTransport(config)
	require.NotNil(t, transport.Proxy)

	req, _ := http.NewRequest(http.MethodGet, "http://target.com", nil)
	resultURL, err := transport.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, proxyURL, resultURL)
}

func TestNewHTTPTransport_HTTP2(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		config := NewDefaultClientConfig(nil)
		config.ForceHTTP2 = true
		transport := NewHTTPTransport(config)

		assert.True(t, transport.ForceAttemptHTTP2)
		assert.Equal(t, []string{"h2", "http/1.1"}, transport.TLSClientConfig.NextProtos)
	})

	t.Run("disabled", func(t *testing.T) {
		config := NewDefaultClientConfig(nil)
		config.ForceHTTP2 = false
		transport := NewHTTPTransport(config)

		assert.False(t, transport.ForceAttemptHTTP2)
		assert.Equal(t, []string{"http/1.1"}, transport.TLSClientConfig.NextProtos)
	})
}

// -- Test Cases: Client Behavior (NewClient and Integration) --

func TestClient_TimeoutBehavior(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	config := NewDefaultClientConfig(nil)
	config.RequestTimeout = 100 * time.Millisecond
	client := NewClient(config)

	start := time.Now()
	resp, err := client.Get(server.URL)
	require.Error(t, err)
	assert.Nil(t, resp)

	var urlErr *url.Error
	require.True(t, errors.As(err, &urlErr))
	assert.True(t, urlErr.Timeout() || errors.Is(urlErr.Err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_HTTPS_Integration(t *testing.T) {
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Hello, client")
	}))
	server.StartTLS()
	defer server.Close()

	caCertPool := x509.NewCertPool()
	caCertPool.AddCert(server.Certificate())

	config := NewDefaultClientConfig(nil)
	config.TLSConfig = &tls.Config{RootCAs: caCertPool}
	client := NewClient(config)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Hello, client\n", string(body))
}

func TestClient_InsecureSkipVerify_Integration(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK Insecure"))
	}))
	defer server.Close()

	_, err := NewClient(nil).Get(server.URL)
	assert.Error(t, err, "Default client should fail on untrusted certificate")

	config := NewDefaultClientConfig(nil)
	config.IgnoreTLSErrors = true
	resp, err := NewClient(config).Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK Insecure", string(body))
}

func TestClient_ConnectionPooling(t *testing.T) {
	remoteAddrs := make(map[string]bool)
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		remoteAddrs[r.RemoteAddr] = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(NewDefaultClientConfig(nil))
	const iterations = 5
	for i := 0; i < iterations; i++ {
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		// Must read and close the body to allow connection reuse.
		_, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, len(remoteAddrs), iterations, "Connections should have been reused")
	assert.Greater(t, len(remoteAddrs), 0)
}
