package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitwo-project/clinic-portal/pkg/circuitbreaker"
	apperrors "github.com/sitwo-project/clinic-portal/pkg/errors"
	"github.com/sitwo-project/clinic-portal/pkg/logger"
	"github.com/sitwo-project/clinic-portal/pkg/metrics"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m := metrics.NewClientMetrics("test", prometheus.NewRegistry())
	client, err := New(Config{BaseURL: srv.URL}, testLogger(), m)
	require.NoError(t, err)
	return client
}

func TestCSRFHeaderOnMutatingRequests(t *testing.T) {
	var gotHeader, gotCookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/csrf/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-abc", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/consultas/", func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-CSRFToken")
		if ck, err := r.Cookie("csrftoken"); err == nil {
			gotCookie = ck.Value
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{}`)
	})

	client := newTestClient(t, mux)
	err := client.Post(context.Background(), "/consultas/", map[string]int{"idhorario": 1}, nil)
	require.NoError(t, err)

	assert.Equal(t, "csrf-abc", gotHeader)
	assert.Equal(t, "csrf-abc", gotCookie)
}

func TestCSRFSeedHappensOnce(t *testing.T) {
	var seeds int
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/csrf/", func(w http.ResponseWriter, r *http.Request) {
		seeds++
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-abc", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/consultas/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	client := newTestClient(t, mux)
	ctx := context.Background()
	require.NoError(t, client.Post(ctx, "/consultas/", nil, nil))
	require.NoError(t, client.Patch(ctx, "/consultas/", nil, nil))

	assert.Equal(t, 1, seeds)
}

func TestCSRFSeedRetriesAfterFailure(t *testing.T) {
	var seeds int
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/csrf/", func(w http.ResponseWriter, r *http.Request) {
		seeds++
		if seeds == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-abc", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/auth/login/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	client := newTestClient(t, mux)
	ctx := context.Background()

	err := client.Post(ctx, "/auth/login/", nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNetwork(err))

	// The backend recovered; the next mutating request must re-seed.
	require.NoError(t, client.Post(ctx, "/auth/login/", nil, nil))
	assert.Equal(t, 2, seeds)
}

func TestAuthorizationHeader(t *testing.T) {
	var got string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		fmt.Fprint(w, `{}`)
	})

	client := newTestClient(t, handler)
	ctx := context.Background()

	require.NoError(t, client.Get(ctx, "/auth/user/", nil, nil))
	assert.Empty(t, got)

	client.SetToken("tok-xyz")
	require.NoError(t, client.Get(ctx, "/auth/user/", nil, nil))
	assert.Equal(t, "Token tok-xyz", got)

	client.ClearToken()
	require.NoError(t, client.Get(ctx, "/auth/user/", nil, nil))
	assert.Empty(t, got)
}

func TestGetEncodesQuery(t *testing.T) {
	var got url.Values
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		fmt.Fprint(w, `{"count":0,"results":[]}`)
	})

	client := newTestClient(t, handler)
	q := url.Values{}
	q.Set("fecha", "2026-09-15")
	q.Set("odontologo_id", "3")
	require.NoError(t, client.Get(context.Background(), "/horarios-disponibles/", q, nil))

	assert.Equal(t, "2026-09-15", got.Get("fecha"))
	assert.Equal(t, "3", got.Get("odontologo_id"))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   apperrors.ErrorCode
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":"Invalid credentials."}`, apperrors.ErrAuthentication},
		{"forbidden", http.StatusForbidden, `{"detail":"No tiene permiso."}`, apperrors.ErrPermission},
		{"not found", http.StatusNotFound, `{"detail":"No encontrado."}`, apperrors.ErrNotFound},
		{"conflict", http.StatusConflict, `{"detail":"El horario ya está reservado."}`, apperrors.ErrConflict},
		{"validation", http.StatusBadRequest, `{"fecha":["This field is required."]}`, apperrors.ErrValidation},
		{"rate limited", http.StatusTooManyRequests, `{"detail":"Request was throttled."}`, apperrors.ErrNetwork},
		{"server error", http.StatusInternalServerError, ``, apperrors.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			err := client.Get(context.Background(), "/consultas/", nil, nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestValidationErrorCarriesFields(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"fecha":["This field is required."],"idhorario":"Invalid pk."}`)
	}))

	err := client.Get(context.Background(), "/consultas/", nil, nil)
	require.Error(t, err)

	fields := apperrors.FieldsOf(err)
	assert.Equal(t, "This field is required.", fields["fecha"])
	assert.Equal(t, "Invalid pk.", fields["idhorario"])
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	m := metrics.NewClientMetrics("test", prometheus.NewRegistry())
	client, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, testLogger(), m)
	require.NoError(t, err)
	srv.Close()

	err = client.Get(context.Background(), "/consultas/", nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNetwork(err))
}

func TestBreakerOpensAfterRepeatedTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	m := metrics.NewClientMetrics("test", prometheus.NewRegistry())
	client, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, testLogger(), m)
	require.NoError(t, err)
	srv.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.Error(t, client.Get(ctx, "/consultas/", nil, nil))
	}

	err = client.Get(ctx, "/consultas/", nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNetwork(err))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestHTTPErrorsDoNotTripBreaker(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail":"No encontrado."}`)
	}))

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		err := client.Get(ctx, "/consultas/9999/", nil, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	}
}

func TestMetricsLabelsCollapseIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/csrf/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "c", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/consultas/42/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	m := metrics.NewClientMetrics("test", reg)
	client, err := New(Config{BaseURL: srv.URL}, testLogger(), m)
	require.NoError(t, err)

	require.NoError(t, client.Patch(context.Background(), "/consultas/42/", map[string]int{"idestadoconsulta": 2}, nil))

	families, err := reg.Gather()
	require.NoError(t, err)

	var paths []string
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "path" {
					paths = append(paths, label.GetValue())
				}
			}
		}
	}
	require.NotEmpty(t, paths)
	assert.Contains(t, paths, "/consultas/:id/")
	for _, p := range paths {
		assert.NotContains(t, p, "42")
	}
}

func TestMetricsPathPassthrough(t *testing.T) {
	assert.Equal(t, "/consultas/:id/cancelar/", metricsPath("/consultas/17/cancelar/"))
	assert.Equal(t, "/horarios-disponibles/", metricsPath("/horarios-disponibles/"))
	assert.Equal(t, "/auth/login/", metricsPath("/auth/login/"))
}

func TestGetDecodesResponse(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count":1,"results":[{"codigo":3}]}`)
	}))

	var out struct {
		Count   int `json:"count"`
		Results []struct {
			Codigo int `json:"codigo"`
		} `json:"results"`
	}
	require.NoError(t, client.Get(context.Background(), "/odontologos/", nil, &out))
	assert.Equal(t, 1, out.Count)
	require.Len(t, out.Results, 1)
	assert.Equal(t, 3, out.Results[0].Codigo)
}
