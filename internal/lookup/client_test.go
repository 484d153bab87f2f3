// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lookup_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pdsworker/internal"
	"pdsworker/internal/bridge"
	"pdsworker/internal/lookup"
	"pdsworker/internal/templates"
)

const traceTemplate = `<trace id="{{messageId}}" at="{{creationTime}}"><nhs>{{nhsNumber}}</nhs></trace>`

func loadStore(t *testing.T) *templates.Store {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "qupa_in000008uk02.xml"), []byte(traceTemplate), 0600))
	store, err := templates.Load(dir)
	require.NoError(t, err)
	return store
}

func clientConfig(host string) lookup.ClientConfig {
	return lookup.ClientConfig{
		Host:            host,
		Path:            "/sync-service",
		MessageType:     "QUPA_IN000008UK02",
		ActionNamespace: "urn:nhs:names:services:pdsquery",
		Timeout:         5 * time.Second,
	}
}

var fixedNow = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

func TestSend(t *testing.T) {
	t.Run("posts body with protocol headers", func(t *testing.T) {
		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/sync-service", r.URL.Path)
			assert.Equal(t, "urn:nhs:names:services:pdsquery/QUPA_IN000008UK02", r.Header.Get("SOAPAction"))
			assert.Equal(t, "text/xml", r.Header.Get("Content-Type"))

			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.Equal(t, "<req/>", string(body))

			w.Write([]byte("<traceResponse/>"))
		}))
		defer server.Close()

		client := lookup.NewClient(clientConfig(server.URL), nil, loadStore(t), internal.RunMode{},
			lookup.WithHTTPClient(server.Client()))

		result, err := client.Send(context.Background(), "<req/>", "QUPA_IN000008UK02")
		require.NoError(t, err)
		assert.Equal(t, "<traceResponse/>", result)
	})

	t.Run("returns body with status error", func(t *testing.T) {
		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("<soap:Fault/>"))
		}))
		defer server.Close()

		client := lookup.NewClient(clientConfig(server.URL), nil, loadStore(t), internal.RunMode{},
			lookup.WithHTTPClient(server.Client()))

		result, err := client.Send(context.Background(), "<req/>", "QUPA_IN000008UK02")
		require.Error(t, err)
		assert.Equal(t, "<soap:Fault/>", result)

		var statusErr *lookup.StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	})

	t.Run("rejects unverified server by default", func(t *testing.T) {
		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("request should not reach an unverified server")
		}))
		defer server.Close()

		client := lookup.NewClient(clientConfig(server.URL), nil, loadStore(t), internal.RunMode{})

		_, err := client.Send(context.Background(), "<req/>", "QUPA_IN000008UK02")
		assert.Error(t, err)
	})
}

func TestSimpleTrace(t *testing.T) {
	received := make(chan string, 4)
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- string(body)
		w.Write([]byte("<ok/>"))
	}))
	defer server.Close()

	client := lookup.NewClient(clientConfig(server.URL), nil, loadStore(t), internal.RunMode{Debug: true},
		lookup.WithHTTPClient(server.Client()), lookup.WithClock(fixedNow))

	t.Run("renders item fields into the configured template", func(t *testing.T) {
		item := bridge.QueueItem{"correlationId": "c1", "nhsNumber": "9434765919", "messageId": "MSG-1"}
		result, err := client.SimpleTrace(context.Background(), item)
		require.NoError(t, err)
		assert.Equal(t, "<ok/>", result)
		assert.Equal(t, `<trace id="MSG-1" at="20260304050607"><nhs>9434765919</nhs></trace>`, <-received)
	})

	t.Run("does not mutate the queue item", func(t *testing.T) {
		item := bridge.QueueItem{"correlationId": "c2"}
		_, err := client.SimpleTrace(context.Background(), item)
		require.NoError(t, err)
		<-received
		assert.Len(t, item, 1)
	})

	t.Run("missing template", func(t *testing.T) {
		cfg := clientConfig(server.URL)
		cfg.MessageType = "UNKNOWN"
		broken := lookup.NewClient(cfg, nil, loadStore(t), internal.RunMode{}, lookup.WithHTTPClient(server.Client()))

		_, err := broken.SimpleTrace(context.Background(), bridge.QueueItem{"correlationId": "c3"})
		assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
		assert.ErrorIs(t, err, lookup.ErrRender)
	})
}

func TestTraceFields(t *testing.T) {
	t.Run("generates message id and creation time", func(t *testing.T) {
		fields := lookup.TraceFields(bridge.QueueItem{"correlationId": "c1"}, fixedNow())
		assert.Equal(t, "20260304050607", fields[lookup.CreationTimeField])
		id, ok := fields[lookup.MessageIDField].(string)
		require.True(t, ok)
		assert.Len(t, id, 36)
	})

	t.Run("keeps item supplied values", func(t *testing.T) {
		fields := lookup.TraceFields(bridge.QueueItem{"messageId": "M", "creationTime": "T"}, fixedNow())
		assert.Equal(t, "M", fields[lookup.MessageIDField])
		assert.Equal(t, "T", fields[lookup.CreationTimeField])
	})
}

func TestMutualTLS(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeClientCertificate(t, dir)

	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NotNil(t, r.TLS) || !assert.Len(t, r.TLS.PeerCertificates, 1) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Equal(t, "pds-worker-test", r.TLS.PeerCertificates[0].Subject.CommonName)
		w.Write([]byte("<authenticated/>"))
	}))
	server.TLS = &tls.Config{ClientAuth: tls.RequireAnyClientCert}
	server.StartTLS()
	defer server.Close()

	caFile := filepath.Join(dir, "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, caPEM, 0600))

	creds, err := lookup.LoadCredentials(lookup.CredentialsConfig{
		CertFile: certFile,
		KeyFile:  keyFile,
		CAFile:   caFile,
	})
	require.NoError(t, err)
	assert.False(t, creds.Insecure())

	client := lookup.NewClient(clientConfig(server.URL), creds, loadStore(t), internal.RunMode{})
	result, err := client.Send(context.Background(), "<req/>", "QUPA_IN000008UK02")
	require.NoError(t, err)
	assert.Equal(t, "<authenticated/>", result)
}

func TestLoadCredentials(t *testing.T) {
	t.Run("no certificate configured", func(t *testing.T) {
		_, err := lookup.LoadCredentials(lookup.CredentialsConfig{})
		assert.Error(t, err)
	})

	t.Run("missing pfx file", func(t *testing.T) {
		_, err := lookup.LoadCredentials(lookup.CredentialsConfig{PFXFile: filepath.Join(t.TempDir(), "none.pfx")})
		assert.Error(t, err)
	})

	t.Run("corrupt pfx file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.pfx")
		require.NoError(t, os.WriteFile(path, []byte("not a pkcs12 bundle"), 0600))
		_, err := lookup.LoadCredentials(lookup.CredentialsConfig{PFXFile: path, PFXPassphrase: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode pfx file")
	})

	t.Run("empty ca file", func(t *testing.T) {
		dir := t.TempDir()
		certFile, keyFile := writeClientCertificate(t, dir)
		caFile := filepath.Join(dir, "empty.pem")
		require.NoError(t, os.WriteFile(caFile, []byte("nothing here"), 0600))

		_, err := lookup.LoadCredentials(lookup.CredentialsConfig{CertFile: certFile, KeyFile: keyFile, CAFile: caFile})
		assert.Error(t, err)
	})

	t.Run("insecure mode is opt-in", func(t *testing.T) {
		dir := t.TempDir()
		certFile, keyFile := writeClientCertificate(t, dir)

		creds, err := lookup.LoadCredentials(lookup.CredentialsConfig{CertFile: certFile, KeyFile: keyFile, InsecureSkipVerify: true})
		require.NoError(t, err)
		assert.True(t, creds.Insecure())
		assert.True(t, creds.TLSConfig().InsecureSkipVerify)
		assert.Len(t, creds.TLSConfig().Certificates, 1)
	})

	t.Run("nil credentials verify servers", func(t *testing.T) {
		var creds *lookup.Credentials
		cfg := creds.TLSConfig()
		assert.False(t, cfg.InsecureSkipVerify)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	})
}

func TestFakeClient(t *testing.T) {
	fake := lookup.NewFakeClient(0)
	result, err := fake.SimpleTrace(context.Background(), bridge.QueueItem{"correlationId": "c9", "nhsNumber": "123"})
	require.NoError(t, err)
	assert.Contains(t, result, "<correlationId>c9</correlationId>")
	assert.Contains(t, result, "<nhsNumber>123</nhsNumber>")

	t.Run("honours cancellation", func(t *testing.T) {
		slow := lookup.NewFakeClient(time.Hour)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := slow.SimpleTrace(ctx, bridge.QueueItem{"correlationId": "c10"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type recordingObserver struct {
	mutex  sync.Mutex
	stages []string
}

func (o *recordingObserver) TraceRendered(id string) { o.record("rendered:" + id) }
func (o *recordingObserver) TraceSent(id string)     { o.record("sent:" + id) }

func (o *recordingObserver) record(stage string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.stages = append(o.stages, stage)
}

func TestObserver(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<ok/>")
	}))
	defer server.Close()

	t.Run("client reports rendered then sent", func(t *testing.T) {
		observer := &recordingObserver{}
		client := lookup.NewClient(clientConfig(server.URL), nil, loadStore(t), internal.RunMode{},
			lookup.WithHTTPClient(server.Client()), lookup.WithObserver(observer))

		_, err := client.SimpleTrace(context.Background(), bridge.QueueItem{"correlationId": "c1", "id": "1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"rendered:c1", "sent:c1"}, observer.stages)
	})

	t.Run("render failure is not reported", func(t *testing.T) {
		observer := &recordingObserver{}
		cfg := clientConfig(server.URL)
		cfg.MessageType = "UNKNOWN"
		client := lookup.NewClient(cfg, nil, loadStore(t), internal.RunMode{},
			lookup.WithHTTPClient(server.Client()), lookup.WithObserver(observer))

		_, err := client.SimpleTrace(context.Background(), bridge.QueueItem{"correlationId": "c2"})
		require.Error(t, err)
		assert.Empty(t, observer.stages)
	})

	t.Run("fake reports both stages", func(t *testing.T) {
		observer := &recordingObserver{}
		_, err := lookup.NewFakeClient(0).WithObserver(observer).SimpleTrace(context.Background(), bridge.QueueItem{"correlationId": "c3"})
		require.NoError(t, err)
		assert.Equal(t, []string{"rendered:c3", "sent:c3"}, observer.stages)
	})
}

// writeClientCertificate creates a self-signed ECDSA client certificate
func writeClientCertificate(t *testing.T, dir string) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "pds-worker-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile := filepath.Join(dir, "client.pem")
	keyFile := filepath.Join(dir, "client.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))

	return certFile, keyFile
}
